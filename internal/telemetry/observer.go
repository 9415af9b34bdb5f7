package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
)

const instrumentationName = "github.com/iWaraxe/L3StructuredOutput-sub000/internal/telemetry"

// OutcomeObserver records conversion outcomes as OTel metrics.
type OutcomeObserver struct {
	conversions metric.Int64Counter
	duration    metric.Float64Histogram
	attempts    metric.Int64Histogram
	issues      metric.Int64Counter
}

// NewOutcomeObserver creates an observer on mp, or on the global provider
// when mp is nil.
func NewOutcomeObserver(mp metric.MeterProvider) (*OutcomeObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	o := &OutcomeObserver{}

	var err error
	o.conversions, err = meter.Int64Counter("structconv.conversion.total",
		metric.WithDescription("Conversion requests by terminal outcome"),
		metric.WithUnit("{conversion}"))
	if err != nil {
		return nil, err
	}

	o.duration, err = meter.Float64Histogram("structconv.conversion.duration",
		metric.WithDescription("End-to-end conversion duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	o.attempts, err = meter.Int64Histogram("structconv.conversion.attempts",
		metric.WithDescription("Provider attempts per conversion"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10))
	if err != nil {
		return nil, err
	}

	o.issues, err = meter.Int64Counter("structconv.validation.issues",
		metric.WithDescription("Final validation issues by severity"),
		metric.WithUnit("{issue}"))
	if err != nil {
		return nil, err
	}

	return o, nil
}

// OnOutcome implements pipeline.Observer.
func (o *OutcomeObserver) OnOutcome(ctx context.Context, ev pipeline.Event) {
	attrs := []attribute.KeyValue{
		attribute.String("schema", ev.Schema),
		attribute.String("outcome", string(ev.Outcome)),
		attribute.Bool("cached", ev.Cached),
	}
	if ev.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", string(ev.ErrorCode)))
	}
	set := metric.WithAttributes(attrs...)

	o.conversions.Add(ctx, 1, set)
	o.duration.Record(ctx, ev.Latency.Seconds(), set)
	if !ev.Cached {
		o.attempts.Record(ctx, int64(ev.Attempts), metric.WithAttributes(attribute.String("schema", ev.Schema)))
	}

	if ev.HardIssues > 0 {
		o.issues.Add(ctx, int64(ev.HardIssues), metric.WithAttributes(
			attribute.String("schema", ev.Schema), attribute.String("severity", "hard")))
	}
	if ev.SoftIssues > 0 {
		o.issues.Add(ctx, int64(ev.SoftIssues), metric.WithAttributes(
			attribute.String("schema", ev.Schema), attribute.String("severity", "soft")))
	}
}

var _ pipeline.Observer = (*OutcomeObserver)(nil)
