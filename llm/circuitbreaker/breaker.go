// Package circuitbreaker stops calling a provider that keeps failing and
// probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中，直接拒绝
	StateOpen
	// StateHalfOpen 试探性放行有限次数
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int

	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开状态下允许的试探请求数
	HalfOpenMaxCalls int

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c *Config) normalize() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// Provider wraps an llm.Provider with a circuit breaker. Only retryable
// failures (transient, rate limited) count toward opening the circuit;
// fatal and content-filter errors describe the request, not the upstream.
type Provider struct {
	next   llm.Provider
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	openedAt          time.Time
	halfOpenCallCount int
}

// Wrap returns a breaker-guarded provider.
func Wrap(next llm.Provider, config *Config, logger *zap.Logger) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		next:   next,
		config: cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("provider", next.Name())),
		now:    time.Now,
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.next.Name() }

// Call implements llm.Provider. While the circuit is open it fails fast with
// a transient error so the caller's retry loop backs off normally.
func (p *Provider) Call(ctx context.Context, prompt string) (string, error) {
	if err := p.beforeCall(); err != nil {
		return "", err
	}

	out, err := p.next.Call(ctx, prompt)

	// 调用方主动取消不代表上游故障
	if err != nil && ctx.Err() != nil {
		p.release()
		return "", err
	}
	p.afterCall(err == nil || !llm.KindOf(err).Retryable())
	return out, err
}

// State returns the current state, accounting for an elapsed reset timeout.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateOpen && p.now().Sub(p.openedAt) >= p.config.ResetTimeout {
		return StateHalfOpen
	}
	return p.state
}

// Reset 手动恢复到关闭状态
func (p *Provider) Reset() {
	p.mu.Lock()
	from := p.state
	p.state = StateClosed
	p.failureCount = 0
	p.halfOpenCallCount = 0
	p.mu.Unlock()

	p.logger.Info("circuit breaker reset", zap.String("from_state", from.String()))
	p.notify(from, StateClosed)
}

func (p *Provider) beforeCall() error {
	p.mu.Lock()
	var from State
	changed := false
	defer func() {
		p.mu.Unlock()
		if changed {
			p.notify(from, StateHalfOpen)
		}
	}()

	switch p.state {
	case StateOpen:
		if p.now().Sub(p.openedAt) < p.config.ResetTimeout {
			return p.openError()
		}
		from, changed = p.state, true
		p.state = StateHalfOpen
		p.halfOpenCallCount = 1
		p.logger.Info("circuit breaker half-open")
		return nil
	case StateHalfOpen:
		if p.halfOpenCallCount >= p.config.HalfOpenMaxCalls {
			return p.openError()
		}
		p.halfOpenCallCount++
		return nil
	default:
		return nil
	}
}

// release gives back a half-open probe slot without judging the upstream.
func (p *Provider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateHalfOpen && p.halfOpenCallCount > 0 {
		p.halfOpenCallCount--
	}
}

func (p *Provider) afterCall(success bool) {
	p.mu.Lock()
	from := p.state
	if success {
		p.onSuccess()
	} else {
		p.onFailure()
	}
	to := p.state
	p.mu.Unlock()

	if from != to {
		p.notify(from, to)
	}
}

func (p *Provider) onSuccess() {
	if p.state == StateHalfOpen {
		p.logger.Info("circuit breaker closed", zap.Int("half_open_calls", p.halfOpenCallCount))
		p.halfOpenCallCount = 0
	}
	p.state = StateClosed
	p.failureCount = 0
}

func (p *Provider) onFailure() {
	p.failureCount++
	switch p.state {
	case StateClosed:
		if p.failureCount >= p.config.Threshold {
			p.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", p.failureCount),
				zap.Int("threshold", p.config.Threshold),
			)
			p.state = StateOpen
			p.openedAt = p.now()
		}
	case StateHalfOpen:
		p.logger.Warn("circuit breaker probe failed, reopening",
			zap.Int("half_open_calls", p.halfOpenCallCount),
		)
		p.state = StateOpen
		p.openedAt = p.now()
		p.halfOpenCallCount = 0
	}
}

func (p *Provider) openError() error {
	e := llm.Transient(llm.CodeCircuitOpen, "circuit breaker is open")
	e.Provider = p.next.Name()
	if wait := p.config.ResetTimeout - p.now().Sub(p.openedAt); wait > 0 {
		e.RetryAfter = wait
	}
	return e
}

func (p *Provider) notify(from, to State) {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(from, to)
	}
}
