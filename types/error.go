package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Setup-time error codes. These are returned while building schemas,
// policies and collaborators, never while a conversion request is running.
const (
	ErrInvalidSchema ErrorCode = "INVALID_SCHEMA"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrInvalidPolicy ErrorCode = "INVALID_POLICY"
)

// Request-time error codes attached to terminal failures.
const (
	ErrConversionExhausted ErrorCode = "CONVERSION_EXHAUSTED"
	ErrProviderFailed      ErrorCode = "PROVIDER_FAILED"
	ErrRequestCancelled    ErrorCode = "REQUEST_CANCELLED"
	ErrDeadlineExceeded    ErrorCode = "DEADLINE_EXCEEDED"
)

// Collaborator error codes.
const (
	ErrCacheUnavailable   ErrorCode = "CACHE_UNAVAILABLE"
	ErrHistoryUnavailable ErrorCode = "HISTORY_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewConfigError creates an INVALID_CONFIG error with a formatted message.
func NewConfigError(format string, args ...any) *Error {
	return NewError(ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// NewSchemaError creates an INVALID_SCHEMA error with a formatted message.
func NewSchemaError(format string, args ...any) *Error {
	return NewError(ErrInvalidSchema, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts an *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
