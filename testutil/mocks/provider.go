// ScriptedProvider 是 llm.Provider 的脚本化测试模拟实现。
//
// 按顺序返回预设的响应或错误，并记录每次调用的提示词。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

// ErrScriptExhausted is returned once every scripted step has been consumed
// and no fallback is configured.
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// --- ScriptedProvider 结构 ---

// Step is one scripted reply.
type Step struct {
	Raw   string
	Err   error
	Delay time.Duration
	// Block waits until the call context is done and returns its error.
	Block bool
}

// ScriptedProvider replays a fixed sequence of replies.
type ScriptedProvider struct {
	mu sync.Mutex

	name     string
	steps    []Step
	fallback *Step

	// 调用记录
	prompts []string
	calls   int
	active  int
	peak    int
}

// NewScriptedProvider 创建新的 ScriptedProvider
func NewScriptedProvider(name string) *ScriptedProvider {
	if name == "" {
		name = "mock"
	}
	return &ScriptedProvider{name: name}
}

// --- Builder 方法 ---

// Respond 追加一个成功响应
func (m *ScriptedProvider) Respond(raw ...string) *ScriptedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range raw {
		m.steps = append(m.steps, Step{Raw: r})
	}
	return m
}

// Fail 追加一个错误响应
func (m *ScriptedProvider) Fail(err error) *ScriptedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Err: err})
	return m
}

// Block 追加一个阻塞直到上下文结束的调用
func (m *ScriptedProvider) Block() *ScriptedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Block: true})
	return m
}

// Then 追加任意步骤
func (m *ScriptedProvider) Then(s Step) *ScriptedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
	return m
}

// Always 设置脚本耗尽后的默认步骤
func (m *ScriptedProvider) Always(s Step) *ScriptedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &s
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *ScriptedProvider) Name() string { return m.name }

// Call 返回下一个脚本步骤
func (m *ScriptedProvider) Call(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.calls++
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	step, ok := m.next()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if !ok {
		return "", ErrScriptExhausted
	}
	if step.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return "", step.Err
	}
	return step.Raw, nil
}

// next must be called with mu held.
func (m *ScriptedProvider) next() (Step, bool) {
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		return s, true
	}
	if m.fallback != nil {
		return *m.fallback, true
	}
	return Step{}, false
}

// --- 断言辅助 ---

// Calls 返回调用次数
func (m *ScriptedProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts 返回所有调用的提示词副本
func (m *ScriptedProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// LastPrompt 返回最近一次调用的提示词
func (m *ScriptedProvider) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// PeakConcurrency 返回同时进行中的最大调用数
func (m *ScriptedProvider) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Remaining 返回尚未消费的脚本步骤数
func (m *ScriptedProvider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

var _ llm.Provider = (*ScriptedProvider)(nil)
