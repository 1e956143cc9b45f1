package model

import "fmt"

// ValidationError is returned when task input or a recurrence descriptor is
// rejected at creation time, before it can ever reach the generator.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
