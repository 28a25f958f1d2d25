package errs

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential-backoff retry. The transaction
// runner (internal/txn) builds one of these from each transaction
// Config; no other package of the module uses one.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts, not counting
	// the initial attempt.
	MaxRetries int
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff regardless of how many attempts have elapsed.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor applied after each attempt.
	Multiplier float64
	// Jitter randomizes the delay within [0.5, 1.0] of the computed value
	// to avoid synchronized retries across concurrent callers.
	Jitter bool
}

// DefaultRetryConfig mirrors the store's default transaction retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryWithResult runs fn, retrying on error per cfg, until it succeeds,
// the context is cancelled, or the retry budget is exhausted. Only
// errors for which shouldRetry returns true are retried; others are
// returned immediately so non-retriable failures surface fast.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt >= cfg.MaxRetries {
			return zero, err
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}
