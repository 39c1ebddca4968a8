// Package redis builds the Redis client shared by the coordination store,
// the job queues and their event bus.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/paygate/internal/config"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient creates a client for cfg. It does not connect; call Ping to
// verify the server is reachable.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Ping checks that the server answers within two seconds.
func Ping(ctx context.Context, client goredis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
