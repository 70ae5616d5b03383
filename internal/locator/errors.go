package locator

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no strategy found the target before the deadline.
var ErrNotFound = errors.New("element not found")

// Error represents a failed locator operation.
type Error struct {
	Target  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("locator error for %s: %s: %v", e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("locator error for %s: %s", e.Target, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
