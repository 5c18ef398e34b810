package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy describes how an invocation boundary retries a failing call.
// Retryable decides which errors are transient; a nil Retryable retries every error.
type Policy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Retryable    func(error) bool
	OnRetry      func(attempt uint, err error)
}

// Do executes a function with exponential backoff retry
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.MaxAttempts),
		retry.Delay(p.InitialDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.Retryable != nil {
		opts = append(opts, retry.RetryIf(p.Retryable))
	}
	if p.OnRetry != nil {
		opts = append(opts, retry.OnRetry(p.OnRetry))
	}
	return retry.Do(fn, opts...)
}

// ExponentialDelay returns min(base * 2^(attempt-1), max) for a 1-based attempt.
// Attempts below 1 are treated as the first attempt.
func ExponentialDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return min(d, max)
}
