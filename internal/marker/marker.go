// Package marker persists per-(user, conversation) read markers. Markers are
// client-owned and never written to the remote store: single-device
// semantics, kept deliberately (see DESIGN.md).
package marker

import (
	"context"
	"time"

	"github.com/chatsync/internal/model"
)

// Store holds last-read timestamps. A zero time from Get means "never read".
// Implementations: redis.Client for a long-lived client process, and
// memory.Client for tests and throwaway runs.
type Store interface {
	Get(ctx context.Context, userID string, conv model.Ref) (time.Time, error)
	Set(ctx context.Context, userID string, conv model.Ref, t time.Time) error
	Close() error
}

// Key builds the storage key. conv.Key() is kind-prefixed, so a direct
// conversation and a group with equal raw ids can never share a marker.
func Key(userID string, conv model.Ref) string {
	return "read_marker:" + userID + ":" + conv.Key()
}
