package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	m, err := NewMetrics(WithMeterProvider(mp), WithTracerProvider(tp))
	require.NoError(t, err)
	return m, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstrument_Success(t *testing.T) {
	m, reader, recorder := newTestMetrics(t)
	p := Instrument(llm.ProviderFunc{ProviderName: "stub", Fn: func(context.Context, string) (string, error) {
		return `{"a":1}`, nil
	}}, m)
	assert.Equal(t, "stub", p.Name())

	out, err := p.Call(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, metrics["llm.request.total"]))
	assert.Equal(t, int64(0), sumOf(t, metrics["llm.request.active"]))
	assert.NotContains(t, metrics, "llm.error.total")

	hist, ok := metrics["llm.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "llm.call", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestInstrument_ErrorByKind(t *testing.T) {
	m, reader, recorder := newTestMetrics(t)
	p := Instrument(llm.ProviderFunc{ProviderName: "stub", Fn: func(context.Context, string) (string, error) {
		return "", llm.RateLimited("slow down", 0)
	}}, m)

	_, err := p.Call(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, llm.KindRateLimited, llm.KindOf(err))

	metrics := collect(t, reader)
	errs, ok := metrics["llm.error.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	kind, found := errs.DataPoints[0].Attributes.Value(attribute.Key("kind"))
	require.True(t, found)
	assert.Equal(t, "rate_limited", kind.AsString())
	code, found := errs.DataPoints[0].Attributes.Value(attribute.Key("code"))
	require.True(t, found)
	assert.Equal(t, llm.CodeRateLimited, code.AsString())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "rate_limited", spans[0].Status().Description)
}
