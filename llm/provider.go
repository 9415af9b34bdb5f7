package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the single capability the pipeline needs from a model:
// send a prompt, get raw text back. Failures must be *ProviderError values
// so callers can decide retryability without reading messages.
type Provider interface {
	Name() string
	Call(ctx context.Context, prompt string) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, prompt string) (string, error)
}

// Name implements Provider.
func (f ProviderFunc) Name() string { return f.ProviderName }

// Call implements Provider.
func (f ProviderFunc) Call(ctx context.Context, prompt string) (string, error) {
	return f.Fn(ctx, prompt)
}

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindRateLimited     ErrorKind = "rate_limited"
	KindContentFiltered ErrorKind = "content_filtered"
	KindFatal           ErrorKind = "fatal"
)

// Retryable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// 统一的 Provider 错误码，便于日志与指标聚合。
const (
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeInvalidRequest  = "invalid_request"
	CodeRateLimited     = "rate_limited"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeContentFiltered = "content_filtered"
	CodeUpstreamError   = "upstream_error"
	CodeUpstreamTimeout = "upstream_timeout"
	CodeOverloaded      = "model_overloaded"
	CodeCircuitOpen     = "circuit_open"
	CodeTransport       = "transport_error"
	CodeEmptyResponse   = "empty_response"
)

// ProviderError is the classified failure returned by provider adapters.
type ProviderError struct {
	Kind       ErrorKind     `json:"kind"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider error", e.Kind)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the error may be retried.
func (e *ProviderError) Retryable() bool { return e.Kind.Retryable() }

// NewError creates a ProviderError of the given kind.
func NewError(kind ErrorKind, code, message string) *ProviderError {
	return &ProviderError{Kind: kind, Code: code, Message: message}
}

// Transient creates a retryable error.
func Transient(code, message string) *ProviderError {
	return NewError(KindTransient, code, message)
}

// RateLimited creates a retryable error carrying an optional retry hint.
func RateLimited(message string, retryAfter time.Duration) *ProviderError {
	e := NewError(KindRateLimited, CodeRateLimited, message)
	e.RetryAfter = retryAfter
	return e
}

// ContentFiltered creates a terminal error for refused content.
func ContentFiltered(message string) *ProviderError {
	return NewError(KindContentFiltered, CodeContentFiltered, message)
}

// Fatal creates a terminal error.
func Fatal(code, message string) *ProviderError {
	return NewError(KindFatal, code, message)
}

// AsProviderError extracts a *ProviderError from the chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf classifies err. Errors that carry no *ProviderError are Fatal:
// an adapter that cannot classify a failure must not cause blind retries.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return KindFatal
}

// RetryAfterOf returns the provider's retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	if pe, ok := AsProviderError(err); ok {
		return pe.RetryAfter
	}
	return 0
}
