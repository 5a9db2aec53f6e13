package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// InvocationError wraps collaborator failures with status metadata so the
// orchestrator can separate retryable hiccups from hard failures.
type InvocationError struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return "agent invocation error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("agent invocation error (status=%d)", e.Status)
}

func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether an invocation failure is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		if invErr.Temporary {
			return true
		}
		if invErr.Status == 429 || (invErr.Status >= 500 && invErr.Status <= 599) {
			return true
		}
	}
	return false
}
