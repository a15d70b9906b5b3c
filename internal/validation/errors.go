package validation

import "errors"

// Error reports rejected input together with every failed constraint.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	return "validation failed: " + Join(e.Issues)
}

// FirstMessage is the message of the first issue, suitable for a one-line summary.
func (e *Error) FirstMessage() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	return e.Issues[0].Message
}

// NewError wraps issues, returning nil when there are none.
func NewError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &Error{Issues: issues}
}

// AsError extracts a validation Error from err.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}
