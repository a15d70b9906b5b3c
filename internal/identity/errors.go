package identity

import (
	"errors"
	"fmt"
)

// Error codes follow the hosted auth provider vocabulary so clients can share handling.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailExists         = "email_exists"
	CodeUserNotFound        = "user_not_found"
	CodeInvalidGrant        = "invalid_grant"
	CodeWeakPassword        = "weak_password"
	CodeEmailAddressInvalid = "email_address_invalid"
	CodeValidationFailed    = "validation_failed"
	CodeSessionNotFound     = "session_not_found"
	CodeUnexpected          = "unexpected_failure"
)

var userMessages = map[string]string{
	CodeInvalidCredentials:  "Invalid email or password",
	CodeEmailExists:         "This email is already registered",
	CodeUserNotFound:        "User not found",
	CodeInvalidGrant:        "The reset link has expired or is invalid",
	CodeWeakPassword:        "The password is too weak",
	CodeEmailAddressInvalid: "Invalid email address",
	CodeValidationFailed:    "Invalid data. Check the form.",
	CodeSessionNotFound:     "No active user session",
}

const defaultUserMessage = "Something went wrong. Please try again."

// Error is a classified identity failure.
type Error struct {
	Code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return "identity: " + e.Code
	}
	return fmt.Sprintf("identity: %s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code string, cause error) error {
	return &Error{Code: code, err: cause}
}

// CodeOf returns the classified code of err, or "" for unclassified errors.
func CodeOf(err error) string {
	var identityErr *Error
	if errors.As(err, &identityErr) && identityErr != nil {
		return identityErr.Code
	}
	return ""
}

// MessageFor maps err to a message safe to show to the user.
func MessageFor(err error) string {
	if message, ok := userMessages[CodeOf(err)]; ok {
		return message
	}
	return defaultUserMessage
}
