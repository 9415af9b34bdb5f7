// =============================================================================
// 📦 structconv 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("structconv.yaml").
//	    WithEnvPrefix("STRUCTCONV").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// DefaultEnvPrefix is the prefix of every environment override.
const DefaultEnvPrefix = "STRUCTCONV"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 structconv 的完整配置结构
type Config struct {
	// Pipeline 重试与恢复策略
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Provider 模型提供商配置
	Provider ProviderConfig `yaml:"provider" env:"PROVIDER"`

	// RateLimit 共享限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// CircuitBreaker 熔断配置
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`

	// Redis 结果缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 转换历史存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// PipelineConfig 转换策略配置，对应 pipeline.Policy
type PipelineConfig struct {
	// 最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始退避
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// 最大退避
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// 单次调用超时
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	// 整个请求的截止时间
	RequestDeadline time.Duration `yaml:"request_deadline" env:"REQUEST_DEADLINE"`
	// 是否允许类型修正
	AllowTypeCoercion bool `yaml:"allow_type_coercion" env:"ALLOW_TYPE_COERCION"`
	// 可选字段默认值（仅 YAML）
	Defaults map[string]any `yaml:"defaults" env:"-"`
	// 提示变体顺序
	VariantOrder []string `yaml:"prompt_variant_order" env:"PROMPT_VARIANT_ORDER"`
	// 次数耗尽后是否针对失败字段再请求一次
	ReRequestFailingFields bool `yaml:"re_request_failing_fields" env:"RE_REQUEST_FAILING_FIELDS"`
	// 校验链是否并行执行同阶段校验器
	ParallelValidation bool `yaml:"parallel_validation" env:"PARALLEL_VALIDATION"`
	// 批量转换并发度
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// ProviderConfig OpenAI 兼容端点配置
type ProviderConfig struct {
	// 名称（日志与指标标签）
	Name string `yaml:"name" env:"NAME"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 系统提示词
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 是否请求 JSON 模式
	JSONMode bool `yaml:"json_mode" env:"JSON_MODE"`
	// HTTP 超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 最大并发调用数，0 表示不限
	MaxConcurrent int64 `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 每秒请求数，0 表示不限
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发容量
	Burst int `yaml:"burst" env:"BURST"`
}

// CircuitBreakerConfig 熔断配置
type CircuitBreakerConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续失败阈值
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
	// 打开状态持续时间
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	// 半开状态允许的探测调用数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用结果缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 缓存过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否记录转换历史
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	// 文件轮转
	Rotation RotationConfig `yaml:"rotation" env:"ROTATION"`
}

// RotationConfig 日志文件轮转配置，Filename 为空时不写文件
type RotationConfig struct {
	Filename   string `yaml:"filename" env:"FILENAME"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// /metrics 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewConfigError("load config from file").WithCause(err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, types.NewConfigError("load config from env").WithCause(err)
	}

	// 4. 运行验证器
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewConfigError("config validation failed").WithCause(err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.Pipeline.Policy(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Pipeline.BatchConcurrency < 0 {
		errs = append(errs, "batch_concurrency must not be negative")
	}

	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, "provider temperature must be between 0 and 2")
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, "provider max_tokens must not be negative")
	}

	if c.RateLimit.MaxConcurrent < 0 || c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit values must not be negative")
	}

	if c.CircuitBreaker.Enabled && c.CircuitBreaker.Threshold <= 0 {
		errs = append(errs, "circuit_breaker threshold must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis addr is required when the result cache is enabled")
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unsupported log format %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.NewConfigError("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Policy 转换为 pipeline.Policy
func (p PipelineConfig) Policy() (pipeline.Policy, error) {
	policy := pipeline.Policy{
		MaxAttempts:            p.MaxAttempts,
		InitialBackoff:         p.InitialBackoff,
		MaxBackoff:             p.MaxBackoff,
		AttemptTimeout:         p.AttemptTimeout,
		RequestDeadline:        p.RequestDeadline,
		AllowTypeCoercion:      p.AllowTypeCoercion,
		Defaults:               p.Defaults,
		ReRequestFailingFields: p.ReRequestFailingFields,
	}
	for _, s := range p.VariantOrder {
		v, err := schema.ParseVariant(s)
		if err != nil {
			return pipeline.Policy{}, err
		}
		policy.VariantOrder = append(policy.VariantOrder, v)
	}
	if err := policy.Validate(); err != nil {
		return pipeline.Policy{}, err
	}
	return policy, nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
