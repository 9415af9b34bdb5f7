package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	schemaKey    contextKey = "schema"
	attemptKey   contextKey = "attempt"
	llmModelKey  contextKey = "llm_model"
)

// WithRequestID 设置转换请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取转换请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSchema 设置目标 Schema 名称
func WithSchema(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, schemaKey, name)
}

// Schema 获取目标 Schema 名称
func Schema(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(schemaKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAttempt 设置当前尝试序号（从 1 开始）
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey, n)
}

// Attempt 获取当前尝试序号
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithLLMModel 设置 LLM 模型（用于覆盖默认模型）
func WithLLMModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, llmModelKey, model)
}

// LLMModel 获取 LLM 模型
func LLMModel(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(llmModelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
