package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/marker"
	"github.com/chatsync/internal/model"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Get returns the stored marker or the zero time when none exists. Markers
// are stored as RFC3339Nano so they survive process restarts readably.
func (c *Client) Get(ctx context.Context, userID string, conv model.Ref) (time.Time, error) {
	val, err := c.cli.Get(ctx, marker.Key(userID, conv)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("marker get: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("marker parse: %w", err)
	}
	return t, nil
}

// Set stores the marker without expiry; read markers outlive sessions.
func (c *Client) Set(ctx context.Context, userID string, conv model.Ref, t time.Time) error {
	if err := c.cli.Set(ctx, marker.Key(userID, conv), t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("marker set: %w", err)
	}
	return nil
}
