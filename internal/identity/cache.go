// Package identity memoizes user profile lookups. One cache is constructed
// per process and passed to every consumer; profile mutations call
// InvalidateAll because any cached copy rendered anywhere is stale after an
// edit.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

type Cache struct {
	store remote.Store

	mu    sync.RWMutex
	users map[string]*model.User
}

func New(store remote.Store) *Cache {
	return &Cache{store: store, users: make(map[string]*model.User)}
}

// Get returns the cached profile or fetches it on a miss. Any failure
// (missing record, remote error, bad document) comes back as (nil, false);
// callers render a placeholder and never see an error from here.
func (c *Cache) Get(ctx context.Context, userID string) (*model.User, bool) {
	if userID == "" {
		return nil, false
	}
	c.mu.RLock()
	u, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return u, true
	}

	rec, err := c.store.Get(ctx, remote.KindUsers, userID)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			logger.Errorf("identity fetch %s: %v", userID, err)
		}
		return nil, false
	}
	u = &model.User{}
	if err := json.Unmarshal(rec.Doc, u); err != nil {
		logger.Errorf("identity decode %s: %v", userID, err)
		return nil, false
	}
	u.ID = rec.ID
	u.CreatedAt = rec.CreatedAt

	c.mu.Lock()
	c.users[userID] = u
	c.mu.Unlock()
	return u, true
}

// InvalidateAll drops every cached profile. Called after any profile
// mutation from this process; there is no TTL besides this.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.users = make(map[string]*model.User)
	c.mu.Unlock()
}
