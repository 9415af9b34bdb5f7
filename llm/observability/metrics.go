package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

const instrumentationName = "github.com/iWaraxe/L3StructuredOutput-sub000/llm"

// Metrics 模型调用指标收集器
type Metrics struct {
	tracer trace.Tracer

	requestTotal    metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	responseChars   metric.Int64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// Option configures Metrics.
type Option func(*options)

type options struct {
	mp metric.MeterProvider
	tp trace.TracerProvider
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...Option) (*Metrics, error) {
	o := options{mp: otel.GetMeterProvider(), tp: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.mp.Meter(instrumentationName)
	m := &Metrics{tracer: o.tp.Tracer(instrumentationName)}

	var err error
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of provider calls"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Provider call failures by error kind"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Provider call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	m.responseChars, err = meter.Int64Histogram("llm.response.chars",
		metric.WithDescription("Raw response size in characters"),
		metric.WithUnit("{char}"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536))
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of in-flight provider calls"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Provider records a span and metrics around every call of the wrapped
// provider.
type Provider struct {
	next    llm.Provider
	metrics *Metrics
}

// Instrument wraps next with m.
func Instrument(next llm.Provider, m *Metrics) *Provider {
	return &Provider{next: next, metrics: m}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.next.Name() }

// Call implements llm.Provider.
func (p *Provider) Call(ctx context.Context, prompt string) (string, error) {
	m := p.metrics
	providerAttr := attribute.String("provider", p.next.Name())

	ctx, span := m.tracer.Start(ctx, "llm.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.next.Name()),
			attribute.Int("llm.prompt.chars", len(prompt)),
		))
	defer span.End()

	m.activeRequests.Add(ctx, 1, metric.WithAttributes(providerAttr))
	start := time.Now()
	out, err := p.next.Call(ctx, prompt)
	elapsed := time.Since(start)
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(providerAttr))

	status := "ok"
	if err != nil {
		status = "error"
	}
	common := metric.WithAttributes(providerAttr, attribute.String("status", status))
	m.requestTotal.Add(ctx, 1, common)
	m.requestDuration.Record(ctx, elapsed.Seconds(), common)

	if err != nil {
		kind := llm.KindOf(err)
		attrs := []attribute.KeyValue{providerAttr, attribute.String("kind", string(kind))}
		if pe, ok := llm.AsProviderError(err); ok && pe.Code != "" {
			attrs = append(attrs, attribute.String("code", pe.Code))
		}
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		span.SetAttributes(attribute.String("llm.error.kind", string(kind)))
		return "", err
	}

	m.responseChars.Record(ctx, int64(len(out)), metric.WithAttributes(providerAttr))
	span.SetAttributes(attribute.Int("llm.response.chars", len(out)))
	return out, nil
}
