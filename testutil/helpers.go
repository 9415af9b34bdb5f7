// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertHardIssue(t, res.Issues, "age", validation.CodeMissingRequired)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回 30 秒超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📝 日志辅助
// =============================================================================

// ObservedLogger 返回一个记录所有日志条目的 zap.Logger
func ObservedLogger(level zap.AtomicLevel) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertHardIssue 断言问题列表中存在指定字段与错误码的 Hard 问题
func AssertHardIssue(t *testing.T, issues []validation.Issue, field, code string) {
	t.Helper()
	for _, is := range issues {
		if is.IsHard() && is.Field == field && is.Code == code {
			return
		}
	}
	t.Errorf("no hard issue %s on %q in %v", code, field, issues)
}

// AssertNoHardIssues 断言问题列表中没有 Hard 问题
func AssertNoHardIssues(t *testing.T, issues []validation.Issue) {
	t.Helper()
	assert.False(t, validation.HasHard(issues), "unexpected hard issues: %v", issues)
}

// =============================================================================
// 📦 数据工具
// =============================================================================

// RequireJSONObject 解析 JSON 对象
func RequireJSONObject(t *testing.T, s string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}
