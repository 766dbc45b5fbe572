// Package failure holds the error kinds shared by the engine's components.
// Components wrap one of these sentinels with %w so callers can branch with errors.Is.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrDataUnavailable means an upstream read returned nothing to work with,
	// such as an account without an open hedge.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientData means the sizing inputs were incomplete.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrQuoteInsufficient means no quote covered the debt within the attempt budget.
	ErrQuoteInsufficient = errors.New("quote insufficient")
	// ErrTransactionFailed covers wallet rejections, send errors and reverts.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrNetworkTimeout marks a transient timeout talking to a REST dependency.
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrConfiguration marks missing identifiers or feed mappings.
	ErrConfiguration = errors.New("configuration error")
)

// Classify wraps transport timeouts with ErrNetworkTimeout and returns every other
// error unchanged. Cancellation by the caller is never reported as a timeout.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNetworkTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return err
}

// Configf builds an ErrConfiguration error.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
