package cache

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/tlsutil"
	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// =============================================================================
// 💾 结果缓存
// =============================================================================

// Store 基于 Redis 的转换结果缓存，实现 pipeline.ResultCache
type Store struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 默认过期时间，0 表示永不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 是否启用 TLS
	TLS bool `yaml:"tls" json:"tls"`

	// 连接检查超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "structconv:result:",
		TTL:          24 * time.Hour,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// NewStore 创建结果缓存并检查连接
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	}
	if config.TLS {
		opts.TLSConfig = tlsConfig(config.Addr)
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrCacheUnavailable, "failed to connect to redis").WithCause(err)
	}

	s := &Store{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "result_cache")),
	}

	s.logger.Info("result cache initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.Bool("tls", config.TLS),
		zap.Duration("ttl", config.TTL),
	)

	return s, nil
}

func tlsConfig(addr string) *tls.Config {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return tlsutil.Config(host)
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存的转换结果
func (s *Store) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}

	value, err := decode(data)
	if err != nil {
		s.misses.Add(1)
		s.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.redis.Del(ctx, s.key(key)).Err()
		return nil, false, nil
	}

	s.hits.Add(1)
	return value, true, nil
}

// Set 缓存转换结果
func (s *Store) Set(ctx context.Context, key string, value map[string]any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.redis.Set(ctx, s.key(key), data, s.config.TTL).Err(); err != nil {
		s.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// Invalidate 删除缓存值
func (s *Store) Invalidate(ctx context.Context, keys ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		s.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Ping 检查 Redis 连接
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.redis.Ping(ctx).Err()
}

// Close 关闭缓存
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Info("closing result cache",
		zap.Uint64("hits", s.hits.Load()),
		zap.Uint64("misses", s.misses.Load()),
	)

	return s.redis.Close()
}

func (s *Store) key(k string) string {
	return s.config.KeyPrefix + k
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Keys   int64  `json:"keys"`
}

// HitRate 返回命中率
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

// GetStats 获取缓存统计信息
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	keys, err := s.redis.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis db size: %w", err)
	}

	return &Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Keys:   keys,
	}, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("result cache is closed")

// decode restores a cached value keeping integers as int64, the
// representation the converter produces.
func decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("cached value is not an object")
	}
	return normalize(v).(map[string]any), nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}

var _ pipeline.ResultCache = (*Store)(nil)
