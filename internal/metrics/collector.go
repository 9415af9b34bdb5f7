package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 转换指标收集器，实现 pipeline.Observer
type Collector struct {
	registry *prometheus.Registry

	// 转换指标
	conversionsTotal   *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	conversionAttempts *prometheus.HistogramVec
	attemptsTotal      *prometheus.CounterVec
	issuesTotal        *prometheus.CounterVec
	recoveriesTotal    *prometheus.CounterVec

	// 提供方指标
	providerErrors *prometheus.CounterVec

	// 缓存指标
	cacheHits *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到独立的 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.conversionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of conversion requests by terminal outcome",
		},
		[]string{"schema", "outcome"},
	)

	c.conversionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "End-to-end conversion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"schema", "outcome"},
	)

	c.conversionAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_attempts",
			Help:      "Number of provider attempts per conversion",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"schema"},
	)

	c.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_attempt_outcomes_total",
			Help:      "Total number of attempts by attempt outcome",
		},
		[]string{"schema", "outcome"},
	)

	c.issuesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Total number of final validation issues by severity",
		},
		[]string{"schema", "severity"},
	)

	c.recoveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total number of partial recovery actions by kind",
		},
		[]string{"schema", "kind"}, // kind: default, coercion, re_request
	)

	c.providerErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Total number of conversions ended by a provider error",
		},
		[]string{"kind"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Total number of conversions served from the result cache",
		},
		[]string{"schema"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open history database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle history database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 转换指标记录
// =============================================================================

// OnOutcome 实现 pipeline.Observer
func (c *Collector) OnOutcome(_ context.Context, ev pipeline.Event) {
	schemaName := ev.Schema
	outcome := string(ev.Outcome)

	c.conversionsTotal.WithLabelValues(schemaName, outcome).Inc()
	c.conversionDuration.WithLabelValues(schemaName, outcome).Observe(ev.Latency.Seconds())

	if ev.Cached {
		c.cacheHits.WithLabelValues(schemaName).Inc()
	} else {
		c.conversionAttempts.WithLabelValues(schemaName).Observe(float64(ev.Attempts))
	}

	if ev.HardIssues > 0 {
		c.issuesTotal.WithLabelValues(schemaName, string(validation.SeverityHard)).Add(float64(ev.HardIssues))
	}
	if ev.SoftIssues > 0 {
		c.issuesTotal.WithLabelValues(schemaName, string(validation.SeveritySoft)).Add(float64(ev.SoftIssues))
	}

	if ev.ProviderKind != "" {
		c.providerErrors.WithLabelValues(string(ev.ProviderKind)).Inc()
	}

	res := ev.Result
	if res == nil {
		return
	}
	for _, a := range res.Attempts {
		c.attemptsTotal.WithLabelValues(schemaName, string(a.Outcome)).Inc()
	}
	if n := len(res.AppliedDefaults); n > 0 {
		c.recoveriesTotal.WithLabelValues(schemaName, "default").Add(float64(n))
	}
	if n := len(res.Coerced); n > 0 {
		c.recoveriesTotal.WithLabelValues(schemaName, "coercion").Add(float64(n))
	}
	if n := len(res.ReRequested); n > 0 {
		c.recoveriesTotal.WithLabelValues(schemaName, "re_request").Add(float64(n))
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录历史库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🌐 暴露
// =============================================================================

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 返回 Prometheus 抓取端点
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(c.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var _ pipeline.Observer = (*Collector)(nil)
