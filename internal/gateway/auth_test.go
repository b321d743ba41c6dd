package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatsync/internal/remote"
)

func TestHeaderSession(t *testing.T) {
	var s remote.Session = HeaderSession{}

	if id, err := s.CurrentUserID(context.Background()); err == nil {
		t.Errorf("bare context yielded identity %q", id)
	}

	called := false
	h := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		id, err := s.CurrentUserID(r.Context())
		if err != nil {
			t.Errorf("CurrentUserID: %v", err)
		}
		if id != "alice" {
			t.Errorf("id = %q, want alice", id)
		}
		if got := UserID(r.Context()); got != "alice" {
			t.Errorf("UserID = %q, want alice", got)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("authenticated request never reached the handler")
	}
}
