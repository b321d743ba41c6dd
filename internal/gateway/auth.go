package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatsync/internal/remote"
)

type contextKey string

const userIDKey contextKey = "user_id"

// HeaderSession is the remote.Session behind this gateway: the identity it
// returns is whatever Auth stored in the request context, so every handler
// reads the caller through the same capability the core declares.
type HeaderSession struct{}

func (HeaderSession) CurrentUserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userIDKey).(string)
	if id == "" {
		return "", errors.New("gateway: no session in context")
	}
	return id, nil
}

var session remote.Session = HeaderSession{}

// UserID returns the authenticated user id from the request context, or
// empty when the request never passed Auth.
func UserID(ctx context.Context) string {
	id, err := session.CurrentUserID(ctx)
	if err != nil {
		return ""
	}
	return id
}

// Auth trusts the identity the fronting provider already verified and
// forwards in X-User-Id. Issuing and checking credentials is the
// provider's job; this gateway only needs to know who the caller is.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
