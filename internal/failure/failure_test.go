package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTimeouts(t *testing.T) {
	if err := Classify(timeoutErr{}); !errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("expected network timeout, got %v", err)
	}
	wrapped := fmt.Errorf("post quote: %w", context.DeadlineExceeded)
	if err := Classify(wrapped); !errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("expected network timeout for deadline, got %v", err)
	}
}

func TestClassifyLeavesOtherErrors(t *testing.T) {
	if err := Classify(context.Canceled); errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("cancellation must not be a timeout")
	}
	plain := errors.New("http 400: bad route")
	if err := Classify(plain); err != plain {
		t.Fatalf("expected error unchanged, got %v", err)
	}
	if Classify(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestConfigf(t *testing.T) {
	err := Configf("no price feed for %s", "0xabc")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if err.Error() != "configuration error: no price feed for 0xabc" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
