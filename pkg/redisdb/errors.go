package redisdb

import (
	"errors"
	"fmt"
)

// ErrRestartRecommended marks the fatal circuit-open state: the logical
// database exceeded its reconnection limit and further retries are
// pointless. The owning process should be restarted rather than resubmit.
var ErrRestartRecommended = errors.New("redisdb: reconnection limit exceeded, restart recommended")

// TransientError wraps a connectivity fault the caller may safely retry by
// resubmitting the operation.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("redisdb: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable so the adapter treats it as a
// connectivity fault regardless of its concrete type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable connectivity fault.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRestartRecommended reports whether err carries the fatal circuit-open
// outcome.
func IsRestartRecommended(err error) bool {
	return errors.Is(err, ErrRestartRecommended)
}
