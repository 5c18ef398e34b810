package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/pkg/durable"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock represents a distributed lock using Redis
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client redis.Cmdable, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to acquire the lock
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	// Use SET NX PX to atomically set the lock if it doesn't exist
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.acquired = success
	return success, nil
}

// AcquireWithRetry attempts to acquire the lock with retries
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return domainErrors.ErrLockAcquisitionFailed
}

// Extend resets the lock TTL
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}

	result, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	val, ok := result.(int64)
	if !ok || val == 0 {
		return domainErrors.ErrLockNotHeld
	}

	return nil
}

// Release releases the lock
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.acquired = false
	val, ok := result.(int64)
	if !ok || val == 0 {
		return domainErrors.ErrLockNotHeld
	}

	return nil
}

// IsAcquired returns whether the lock is acquired
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// RunLocker implements durable.Locker on top of DistributedLock so that
// replicas of the api and worker never execute the same run concurrently.
// A held lock is extended in the background until it is released.
type RunLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     zerolog.Logger
}

func NewRunLocker(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *RunLocker {
	return &RunLocker{
		client:     client,
		ttl:        ttl,
		retries:    40,
		retryDelay: 50 * time.Millisecond,
		logger:     logger,
	}
}

func (r *RunLocker) Lock(ctx context.Context, runID string) (func(), error) {
	lock := NewDistributedLock(r.client, "run:"+runID, r.ttl)
	if err := lock.AcquireWithRetry(ctx, r.retries, r.retryDelay); err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, durable.ErrLocked
		}
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Extend(context.Background(), r.ttl); err != nil {
					r.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to extend run lock")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := lock.Release(ctx); err != nil {
				r.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to release run lock")
			}
		})
	}, nil
}
