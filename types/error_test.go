package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProviderFailed, "provider failed").
		WithCause(root).
		WithRetryable(true)

	assert.Equal(t, ErrProviderFailed, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[PROVIDER_FAILED] provider failed: root", err.Error())
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("build: %w", NewSchemaError("field %q declared twice", "age"))

	assert.True(t, IsErrorCode(wrapped, ErrInvalidSchema))
	assert.False(t, IsErrorCode(wrapped, ErrInvalidConfig))
	assert.Equal(t, ErrInvalidSchema, GetErrorCode(wrapped))
	assert.False(t, IsRetryable(wrapped))

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, `field "age" declared twice`, e.Message)
}

func TestError_PlainErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	assert.False(t, IsRetryable(plain))
	_, ok := AsError(plain)
	assert.False(t, ok)
	assert.Equal(t, "[INVALID_CONFIG] max attempts must be positive", NewConfigError("max attempts must be positive").Error())
}
