package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// Event is emitted once per request when it reaches a terminal outcome.
type Event struct {
	RequestID    string          `json:"request_id"`
	Schema       string          `json:"schema"`
	Outcome      Outcome         `json:"outcome"`
	Attempts     int             `json:"attempts"`
	Latency      time.Duration   `json:"latency"`
	IssueSummary string          `json:"issue_summary,omitempty"`
	HardIssues   int             `json:"hard_issues"`
	SoftIssues   int             `json:"soft_issues"`
	Cached       bool            `json:"cached,omitempty"`
	ErrorCode    types.ErrorCode `json:"error_code,omitempty"`
	ProviderKind llm.ErrorKind   `json:"provider_kind,omitempty"`

	// Result is the full result for observers that persist history.
	// Observers must not modify it.
	Result *RecoveryResult `json:"-"`
}

// Observer consumes terminal outcome events. Implementations must be safe
// for concurrent use and should not block for long.
type Observer interface {
	OnOutcome(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// OnOutcome implements Observer.
func (f ObserverFunc) OnOutcome(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

// OnOutcome implements Observer.
func (m MultiObserver) OnOutcome(ctx context.Context, ev Event) {
	for _, o := range m {
		if o != nil {
			o.OnOutcome(ctx, ev)
		}
	}
}

// ZapObserver logs one structured line per outcome.
type ZapObserver struct {
	logger *zap.Logger
}

// NewZapObserver creates a ZapObserver.
func NewZapObserver(logger *zap.Logger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapObserver{logger: logger.With(zap.String("component", "conversion_outcome"))}
}

// OnOutcome implements Observer.
func (z *ZapObserver) OnOutcome(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("request_id", ev.RequestID),
		zap.String("schema", ev.Schema),
		zap.String("outcome", string(ev.Outcome)),
		zap.Int("attempts", ev.Attempts),
		zap.Duration("latency", ev.Latency),
		zap.Int("hard_issues", ev.HardIssues),
		zap.Int("soft_issues", ev.SoftIssues),
	}
	if ev.IssueSummary != "" {
		fields = append(fields, zap.String("issues", ev.IssueSummary))
	}
	if ev.Cached {
		fields = append(fields, zap.Bool("cached", true))
	}
	if ev.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", string(ev.ErrorCode)))
	}
	if ev.ProviderKind != "" {
		fields = append(fields, zap.String("provider_kind", string(ev.ProviderKind)))
	}

	if ev.Outcome == OutcomeExhausted {
		z.logger.Warn("conversion exhausted", fields...)
		return
	}
	z.logger.Info("conversion finished", fields...)
}
