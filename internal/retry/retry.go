// Package retry runs an operation under a bounded attempt budget with a fixed,
// cancellable backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped around the last error once every attempt was used.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop. Retryable decides whether an error earns another
// attempt; a nil Retryable retries every error except context cancellation.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

// Attempt is called with the 1-based attempt number.
type Attempt func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, the context ends,
// or MaxAttempts is reached. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn Attempt) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		if err := Sleep(ctx, p.Backoff); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
