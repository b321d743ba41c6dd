package chat

import (
	"context"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/marker"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// ReadTracker keeps per-user read markers locally and derives unread counts
// by counting at the store. Markers never leave the client side: the store
// holds messages, the marker store holds "last time this user looked".
type ReadTracker struct {
	store   remote.Store
	markers marker.Store
}

func NewReadTracker(store remote.Store, markers marker.Store) *ReadTracker {
	return &ReadTracker{store: store, markers: markers}
}

// MarkRead moves the user's marker for the conversation to now. Calling it
// again immediately is harmless; the marker only ever moves forward in
// practice because time does.
func (t *ReadTracker) MarkRead(ctx context.Context, userID string, ref model.Ref) error {
	if err := t.markers.Set(ctx, userID, ref, time.Now()); err != nil {
		return remoteErr("readstate.MarkRead", err)
	}
	return nil
}

// LastRead returns the user's marker for the conversation, zero when the
// conversation was never opened.
func (t *ReadTracker) LastRead(ctx context.Context, userID string, ref model.Ref) (time.Time, error) {
	at, err := t.markers.Get(ctx, userID, ref)
	if err != nil {
		return time.Time{}, remoteErr("readstate.LastRead", err)
	}
	return at, nil
}

// UnreadCount counts messages in the conversation that arrived after the
// user's marker, excluding the user's own. A missing marker means nothing
// was ever read, so every foreign message counts. The count is delegated to
// the store; message bodies are never fetched for it.
func (t *ReadTracker) UnreadCount(ctx context.Context, userID string, ref model.Ref) (int, error) {
	defer logger.DeferLogDuration("readstate.UnreadCount", time.Now())()
	since, err := t.markers.Get(ctx, userID, ref)
	if err != nil {
		logger.Errorf("readstate: marker lookup failed for %s/%s: %v", userID, ref.Key(), err)
		since = time.Time{}
	}
	where := append(refPredicates(ref), remote.Neq("sender_id", userID))
	if !since.IsZero() {
		where = append(where, remote.After("created_at", since))
	}
	n, err := t.store.Count(ctx, remote.Query{Kind: remote.KindMessages, Where: where})
	if err != nil {
		return 0, remoteErr("readstate.UnreadCount", err)
	}
	return n, nil
}
