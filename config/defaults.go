// =============================================================================
// 📦 structconv 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Pipeline:       DefaultPipelineConfig(),
		Provider:       DefaultProviderConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Redis:          DefaultRedisConfig(),
		Database:       DefaultDatabaseConfig(),
		Log:            DefaultLogConfig(),
		Telemetry:      DefaultTelemetryConfig(),
		Metrics:        DefaultMetricsConfig(),
	}
}

// DefaultPipelineConfig 返回默认转换策略
func DefaultPipelineConfig() PipelineConfig {
	p := pipeline.DefaultPolicy()
	variants := make([]string, len(p.VariantOrder))
	for i, v := range p.VariantOrder {
		variants[i] = string(v)
	}
	return PipelineConfig{
		MaxAttempts:      p.MaxAttempts,
		InitialBackoff:   p.InitialBackoff,
		MaxBackoff:       p.MaxBackoff,
		RequestDeadline:  2 * time.Minute,
		VariantOrder:     variants,
		BatchConcurrency: pipeline.DefaultBatchConcurrency,
	}
}

// DefaultProviderConfig 返回默认 Provider 配置
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Name:        "openai",
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4o-mini",
		Temperature: 0,
		MaxTokens:   1024,
		JSONMode:    true,
		Timeout:     60 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxConcurrent: 8,
		RPS:           5,
		Burst:         10,
	}
}

// DefaultCircuitBreakerConfig 返回默认熔断配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "structconv:result:",
		TTL:          24 * time.Hour,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "structconv",
		Name:            "structconv.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
		Rotation: RotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "structconv",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "structconv",
		Addr:      ":9091",
	}
}
