package openrouter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Code identifies a class of LLM client failure.
type Code string

const (
	CodeRateLimit          Code = "OPENROUTER_RATE_LIMIT"
	CodeTimeout            Code = "OPENROUTER_TIMEOUT"
	CodeValidation         Code = "OPENROUTER_VALIDATION_ERROR"
	CodeBadRequest         Code = "OPENROUTER_BAD_REQUEST"
	CodeUnauthorized       Code = "OPENROUTER_UNAUTHORIZED"
	CodeForbidden          Code = "OPENROUTER_FORBIDDEN"
	CodeNotFound           Code = "OPENROUTER_NOT_FOUND"
	CodeServerError        Code = "OPENROUTER_SERVER_ERROR"
	CodeBadGateway         Code = "OPENROUTER_BAD_GATEWAY"
	CodeServiceUnavailable Code = "OPENROUTER_SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     Code = "OPENROUTER_GATEWAY_TIMEOUT"
	CodeNetworkError       Code = "OPENROUTER_NETWORK_ERROR"
	CodeUnknown            Code = "OPENROUTER_UNKNOWN_ERROR"
	CodeInvalidResponse    Code = "OPENROUTER_INVALID_RESPONSE"
	CodeInvalidJSON        Code = "OPENROUTER_INVALID_JSON"
	CodeInputValidation    Code = "VALIDATION_ERROR"
)

type statusClass struct {
	code      Code
	retryable bool
}

var statusClasses = map[int]statusClass{
	http.StatusBadRequest:          {code: CodeBadRequest},
	http.StatusUnauthorized:        {code: CodeUnauthorized},
	http.StatusForbidden:           {code: CodeForbidden},
	http.StatusNotFound:            {code: CodeNotFound},
	http.StatusTooManyRequests:     {code: CodeRateLimit, retryable: true},
	http.StatusInternalServerError: {code: CodeServerError, retryable: true},
	http.StatusBadGateway:          {code: CodeBadGateway, retryable: true},
	http.StatusServiceUnavailable:  {code: CodeServiceUnavailable, retryable: true},
	http.StatusGatewayTimeout:      {code: CodeGatewayTimeout, retryable: true},
}

// Error is the single failure type returned by Client.
type Error struct {
	Code       Code
	Message    string
	StatusCode int
	Details    any
	Retryable  bool
	cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ClassifyStatus maps an upstream HTTP status onto the error taxonomy.
func ClassifyStatus(statusCode int, message string) *Error {
	class, ok := statusClasses[statusCode]
	if !ok {
		class = statusClass{code: CodeUnknown}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &Error{
		Code:       class.code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  class.retryable,
	}
}

// IsError reports whether err carries an *Error and returns it.
func IsError(err error) (*Error, bool) {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified, true
	}
	return nil, false
}

// IsRetryable reports whether err is a classified error marked retryable.
func IsRetryable(err error) bool {
	classified, ok := IsError(err)
	return ok && classified.Retryable
}

// classifyTransportError turns a failed round trip into the taxonomy. Cancellation of the
// caller's context is returned untouched so the retry loop stops.
func classifyTransportError(parent, attempt context.Context, timeoutMillis int64, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &Error{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("Request exceeded %dms timeout", timeoutMillis),
			cause:   err,
		}
	}
	if isNetworkError(err) {
		return &Error{
			Code:      CodeNetworkError,
			Message:   fmt.Sprintf("Network error while contacting OpenRouter: %v", err),
			Retryable: true,
			cause:     err,
		}
	}
	return &Error{
		Code:    CodeUnknown,
		Message: fmt.Sprintf("Unexpected transport error: %v", err),
		cause:   err,
	}
}

// isNetworkError reports connection-level failures worth retrying: dial, read and write errors,
// DNS failures, refused or reset connections and truncated responses. Certificate and handshake
// failures are permanent.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if isTLSFailure(err) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func isTLSFailure(err error) bool {
	var verification *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var invalid x509.CertificateInvalidError
	var hostname x509.HostnameError
	var recordHeader tls.RecordHeaderError
	var alert tls.AlertError
	return errors.As(err, &verification) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &alert)
}

// wrapUnexpected classifies anything that escaped the taxonomy as an unknown error.
func wrapUnexpected(err error, prefix string) error {
	if err == nil {
		return nil
	}
	if _, ok := IsError(err); ok {
		return err
	}
	return &Error{
		Code:    CodeUnknown,
		Message: fmt.Sprintf("%s: %v", prefix, err),
		Details: err.Error(),
		cause:   err,
	}
}
