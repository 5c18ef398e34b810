package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cassiomorais/payflow/internal/infrastructure/config"
	"github.com/cassiomorais/payflow/pkg/retry"
)

// NewClient creates a Redis client and waits until it answers PING
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	policy := retry.Policy{
		MaxAttempts:  uint(max(cfg.ConnectRetries, 1)),
		InitialDelay: cfg.ConnectRetryDelay,
		MaxDelay:     10 * time.Second,
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}

	if err := retry.Do(ctx, policy, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", policy.MaxAttempts, err)
	}

	return client, nil
}
