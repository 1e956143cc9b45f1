package calendar

import (
	"errors"
	"fmt"
)

// TransientError wraps a network/timeout/5xx failure that is worth retrying
// with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient calendar error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError means the external resource is gone. The sync engine treats it
// as a delete signal, never as a failure.
type NotFoundError struct {
	EventID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("calendar event not found: %s", e.EventID)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
