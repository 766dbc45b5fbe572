package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Millisecond}
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Millisecond}
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, errFlaky) {
		t.Fatalf("expected exhausted error wrapping last error, got %v", err)
	}
	if attempts != 5 || calls != 5 {
		t.Fatalf("expected 5 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad route")
	p := Policy{
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
	}
	calls := 0
	_, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected fatal error unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoBackoffIsCancellable(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
			return errFlaky
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backoff sleep was not cancelled")
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected one successful call, got calls=%d err=%v", calls, err)
	}
}
