package startup

import (
	"context"
	"os"
	"time"

	"github.com/chatsync/internal/logger"
	markerredis "github.com/chatsync/internal/marker/redis"
)

// ConnectRedisWithRetry connects the read-marker store with backoff, same
// policy as the database.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration) *markerredis.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := markerredis.New(ctx, redisURL)
		cancel()
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis (gave up after %v): %v", maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
