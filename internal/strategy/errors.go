package strategy

import (
	"errors"
	"fmt"
)

// ErrStepFailed matches every error returned by an adapter or venue operation.
var ErrStepFailed = errors.New("step failed")

// StepError wraps the cause of a failed operation. errors.Is(err, ErrStepFailed)
// holds and errors.Unwrap returns the original cause.
type StepError struct {
	Op       string
	Strategy string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrStepFailed
}

func stepErr(s Strategy, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Op: op, Strategy: s.ID, Err: err}
}
