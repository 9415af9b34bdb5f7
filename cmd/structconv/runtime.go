package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/config"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/cache"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/history"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/logging"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/metrics"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/telemetry"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/circuitbreaker"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/observability"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/providers/openaicompat"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/ratelimit"
	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// runtime 持有一次命令执行所需的全部组件
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	orch      *pipeline.Orchestrator
	telemetry *telemetry.Providers
	cache     *cache.Store
	history   *history.Store
	collector *metrics.Collector

	metricsServer *http.Server
	closeLog      func() error
}

// buildOptions 覆盖配置的命令行选项
type buildOptions struct {
	// 替换真实的模型提供方（测试使用）
	provider llm.Provider
	// 指标端点地址，非空时强制启用
	metricsAddr string
	// 只打开历史库，不构建提供方
	historyOnly bool
}

// newRuntime 按配置装配组件；任一步失败都会释放已创建的资源
func newRuntime(cfg *config.Config, opts buildOptions) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return rt, fmt.Errorf("init logger: %w", err)
	}
	rt.logger, rt.closeLog = logger, closeLog

	if cfg.Database.Enabled {
		db, err := history.Open(cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			return rt, err
		}
		pool := history.DefaultPoolConfig()
		pool.MaxOpenConns = cfg.Database.MaxOpenConns
		pool.MaxIdleConns = cfg.Database.MaxIdleConns
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		if rt.history, err = history.NewStore(db, pool, logger); err != nil {
			return rt, err
		}
	}

	if opts.historyOnly {
		return rt, nil
	}

	if rt.telemetry, err = telemetry.Init(cfg.Telemetry, logger); err != nil {
		return rt, err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithTracerProvider(rt.telemetry.TracerProvider()),
		pipeline.WithObserver(pipeline.NewZapObserver(logger)),
	}

	outcomes, err := telemetry.NewOutcomeObserver(rt.telemetry.MeterProvider())
	if err != nil {
		return rt, fmt.Errorf("init outcome metrics: %w", err)
	}
	pipelineOpts = append(pipelineOpts, pipeline.WithObserver(outcomes))

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		rt.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(rt.collector))
		if err := rt.serveMetrics(metricsAddr); err != nil {
			return rt, err
		}
	}

	if rt.history != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(rt.history))
	}

	if cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
		cacheCfg.PoolSize = cfg.Redis.PoolSize
		cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
		cacheCfg.TLS = cfg.Redis.TLS
		cacheCfg.KeyPrefix = cfg.Redis.KeyPrefix
		cacheCfg.TTL = cfg.Redis.TTL
		if rt.cache, err = cache.NewStore(cacheCfg, logger); err != nil {
			return rt, err
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithResultCache(rt.cache))
	}

	pipelineOpts = append(pipelineOpts, pipeline.WithLimiter(ratelimit.New(ratelimit.Config{
		MaxConcurrent: int(cfg.RateLimit.MaxConcurrent),
		RPS:           cfg.RateLimit.RPS,
		Burst:         cfg.RateLimit.Burst,
	})))

	provider, err := rt.buildProvider(opts.provider)
	if err != nil {
		return rt, err
	}

	if rt.orch, err = pipeline.New(provider, pipelineOpts...); err != nil {
		return rt, err
	}

	return rt, nil
}

// buildProvider 组装提供方: 基础实现 → 可观测性 → 熔断器
func (rt *runtime) buildProvider(base llm.Provider) (llm.Provider, error) {
	cfg := rt.cfg
	if base == nil {
		base = openaicompat.New(openaicompat.Config{
			ProviderName: cfg.Provider.Name,
			APIKey:       cfg.Provider.APIKey,
			BaseURL:      cfg.Provider.BaseURL,
			Model:        cfg.Provider.Model,
			SystemPrompt: cfg.Provider.SystemPrompt,
			Temperature:  float32(cfg.Provider.Temperature),
			MaxTokens:    cfg.Provider.MaxTokens,
			JSONMode:     cfg.Provider.JSONMode,
			Timeout:      cfg.Provider.Timeout,
		}, rt.logger)
	}

	m, err := observability.NewMetrics(
		observability.WithMeterProvider(rt.telemetry.MeterProvider()),
		observability.WithTracerProvider(rt.telemetry.TracerProvider()),
	)
	if err != nil {
		return nil, fmt.Errorf("init provider metrics: %w", err)
	}
	var provider llm.Provider = observability.Instrument(base, m)

	if cfg.CircuitBreaker.Enabled {
		logger := rt.logger
		provider = circuitbreaker.Wrap(provider, &circuitbreaker.Config{
			Threshold:        cfg.CircuitBreaker.Threshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("provider circuit state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}, rt.logger)
	}

	return provider, nil
}

// serveMetrics 在后台暴露 Prometheus 端点
func (rt *runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.collector.Handler())

	rt.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := rt.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	rt.logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// newChain 按配置构建校验链
func (rt *runtime) newChain() *validation.Chain {
	return validation.NewChain(
		validation.WithParallel(rt.cfg.Pipeline.ParallelValidation),
		validation.WithLogger(rt.logger),
	)
}

// recordPoolStats 将历史库连接池状态写入指标
func (rt *runtime) recordPoolStats() {
	if rt.collector == nil || rt.history == nil {
		return
	}
	stats := rt.history.Stats()
	rt.collector.RecordDBConnections(rt.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
}

// Close 按创建的逆序释放资源
func (rt *runtime) Close(ctx context.Context) error {
	if rt == nil {
		return nil
	}

	var errs []error
	if rt.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rt.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
		cancel()
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.closeLog != nil {
		if err := rt.closeLog(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
