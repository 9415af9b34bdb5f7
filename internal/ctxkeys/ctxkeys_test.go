package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)
	_, ok = Schema(ctx)
	assert.False(t, ok)
	_, ok = Attempt(ctx)
	assert.False(t, ok)
	_, ok = LLMModel(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSchema(ctx, "Person")
	ctx = WithAttempt(ctx, 2)
	ctx = WithLLMModel(ctx, "gpt-4o-mini")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	name, ok := Schema(ctx)
	assert.True(t, ok)
	assert.Equal(t, "Person", name)

	n, ok := Attempt(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	model, ok := LLMModel(ctx)
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestEmptyValuesAreAbsent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithAttempt(ctx, 0)
	_, ok = Attempt(ctx)
	assert.False(t, ok)
}
