package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/marker"
	"github.com/chatsync/internal/model"
)

type Client struct {
	mu      sync.RWMutex
	markers map[string]time.Time
}

func New() *Client {
	return &Client{markers: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, userID string, conv model.Ref) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markers[marker.Key(userID, conv)], nil
}

func (c *Client) Set(ctx context.Context, userID string, conv model.Ref, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[marker.Key(userID, conv)] = t
	return nil
}
