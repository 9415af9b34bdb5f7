package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

// scripted returns the queued errors in order, then succeeds. A nil entry
// is a success.
type scripted struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Call(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return `{"ok":true}`, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	if err == nil {
		return `{"ok":true}`, nil
	}
	return "", err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(next llm.Provider, cfg *Config) (*Provider, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := Wrap(next, cfg, zap.NewNop())
	p.now = clock.now
	return p, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)
	assert.Nil(t, cfg.OnStateChange)
}

func TestWrap_NormalizesConfig(t *testing.T) {
	p := Wrap(&scripted{}, &Config{Threshold: -1, HalfOpenMaxCalls: 0}, nil)
	assert.Equal(t, 5, p.config.Threshold)
	assert.Equal(t, 30*time.Second, p.config.ResetTimeout)
	assert.Equal(t, 1, p.config.HalfOpenMaxCalls)
	assert.Equal(t, "scripted", p.Name())
	assert.Equal(t, StateClosed, p.State())
}

func TestProvider_OpensAfterThreshold(t *testing.T) {
	transient := llm.Transient(llm.CodeUpstreamError, "502")
	next := &scripted{errs: []error{transient, transient, transient}}
	p, _ := newTestBreaker(next, &Config{Threshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := p.Call(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, p.State())

	_, err := p.Call(context.Background(), "x")
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindTransient, pe.Kind)
	assert.Equal(t, llm.CodeCircuitOpen, pe.Code)
	assert.Equal(t, time.Minute, pe.RetryAfter)
	assert.Equal(t, 3, next.calls, "open circuit must not reach the provider")
}

func TestProvider_FatalErrorsDoNotTrip(t *testing.T) {
	fatal := llm.Fatal(llm.CodeUnauthorized, "bad key")
	filtered := llm.ContentFiltered("refused")
	next := &scripted{errs: []error{fatal, filtered, fatal, errors.New("unclassified")}}
	p, _ := newTestBreaker(next, &Config{Threshold: 2})

	for i := 0; i < 4; i++ {
		_, _ = p.Call(context.Background(), "x")
	}
	assert.Equal(t, StateClosed, p.State())
}

func TestProvider_SuccessResetsCount(t *testing.T) {
	transient := llm.Transient(llm.CodeUpstreamError, "502")
	next := &scripted{errs: []error{transient, nil, transient}}
	p, _ := newTestBreaker(next, &Config{Threshold: 2})

	_, _ = p.Call(context.Background(), "x")
	_, _ = p.Call(context.Background(), "x")
	_, _ = p.Call(context.Background(), "x")
	assert.Equal(t, StateClosed, p.State())
}

func TestProvider_HalfOpenRecovery(t *testing.T) {
	rateLimited := llm.RateLimited("slow down", 0)
	next := &scripted{errs: []error{rateLimited}}

	var mu sync.Mutex
	var transitions []string
	cfg := &Config{
		Threshold:    1,
		ResetTimeout: 10 * time.Second,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	}
	p, clock := newTestBreaker(next, cfg)

	_, err := p.Call(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, StateOpen, p.State())

	clock.advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, p.State())

	out, err := p.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, StateClosed, p.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Closed->Open", "Open->HalfOpen", "HalfOpen->Closed"}, transitions)
}

func TestProvider_HalfOpenProbeFailureReopens(t *testing.T) {
	transient := llm.Transient(llm.CodeUpstreamTimeout, "timeout")
	next := &scripted{errs: []error{transient, transient}}
	p, clock := newTestBreaker(next, &Config{Threshold: 1, ResetTimeout: time.Second})

	_, _ = p.Call(context.Background(), "x")
	clock.advance(2 * time.Second)
	_, err := p.Call(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, llm.CodeUpstreamTimeout, mustProviderError(t, err).Code)
	assert.Equal(t, StateOpen, p.State())
	assert.Equal(t, 2, next.calls)
}

func TestProvider_CancelledCallIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := llm.ProviderFunc{ProviderName: "slow", Fn: func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", llm.Transient(llm.CodeTransport, ctx.Err().Error())
	}}
	p, _ := newTestBreaker(next, &Config{Threshold: 1})

	_, err := p.Call(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, StateClosed, p.State())
}

func TestProvider_Reset(t *testing.T) {
	next := &scripted{errs: []error{llm.Transient(llm.CodeUpstreamError, "x")}}
	p, _ := newTestBreaker(next, &Config{Threshold: 1})
	_, _ = p.Call(context.Background(), "x")
	require.Equal(t, StateOpen, p.State())

	p.Reset()
	assert.Equal(t, StateClosed, p.State())
	_, err := p.Call(context.Background(), "x")
	assert.NoError(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(42).String())
}

func mustProviderError(t *testing.T, err error) *llm.ProviderError {
	t.Helper()
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	return pe
}
