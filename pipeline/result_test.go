package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

func TestFailureError(t *testing.T) {
	cause := llm.Transient(llm.CodeOverloaded, "busy")
	fe := &FailureError{
		Code:     types.ErrConversionExhausted,
		Message:  "no valid answer within 2 attempts",
		Attempts: []ConversionAttempt{{Number: 1}, {Number: 2}},
		Cause:    cause,
	}

	assert.Equal(t, "[CONVERSION_EXHAUSTED] no valid answer within 2 attempts (after 2 attempts): "+cause.Error(), fe.Error())
	assert.True(t, types.IsErrorCode(fe, types.ErrConversionExhausted))
	assert.Equal(t, types.ErrConversionExhausted, types.GetErrorCode(fe))

	pe, ok := llm.AsProviderError(fe)
	require.True(t, ok)
	assert.Same(t, cause, pe)

	last, ok := fe.LastAttempt()
	require.True(t, ok)
	assert.Equal(t, 2, last.Number)
}

func TestFailureError_NoCause(t *testing.T) {
	fe := &FailureError{Code: types.ErrRequestCancelled, Message: "request cancelled"}
	assert.Equal(t, "[REQUEST_CANCELLED] request cancelled (after 0 attempts)", fe.Error())
	assert.False(t, errors.Is(fe, context.Canceled))
	_, ok := fe.LastAttempt()
	assert.False(t, ok)
}

func TestRecoveryResult_Accessors(t *testing.T) {
	var nilResult *RecoveryResult
	assert.False(t, nilResult.OK())
	assert.Error(t, nilResult.Decode(&struct{}{}))

	r := &RecoveryResult{
		Value: map[string]any{"name": "x"},
		Issues: []validation.Issue{
			{Severity: validation.SeveritySoft, Code: validation.CodeSemantic},
			{Severity: validation.SeverityHard, Code: validation.CodeBusinessRule},
		},
		Transitions: []Transition{
			{From: StateAttempting, To: StateRetryingWithModifiedPrompt},
			{From: StateRetryingWithModifiedPrompt, To: StateAttempting},
			{From: StateAttempting, To: StateSucceeded},
		},
	}
	assert.True(t, r.OK())
	assert.Len(t, r.SoftIssues(), 1)
	assert.Equal(t, []State{StateAttempting, StateRetryingWithModifiedPrompt, StateAttempting, StateSucceeded}, r.Path())

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, r.Decode(&out))
	assert.Equal(t, "x", out.Name)
}
