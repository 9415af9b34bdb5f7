package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// =============================================================================
// 🗄️ 转换历史存储
// =============================================================================

// Store 基于 GORM 的转换历史存储，实现 pipeline.Observer
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// PoolConfig 连接池与写入配置
type PoolConfig struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// 写入失败时的事务重试次数
	WriteRetries int `yaml:"write_retries" json:"write_retries"`

	// 单次写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		WriteRetries:    3,
		WriteTimeout:    5 * time.Second,
	}
}

// Open 按驱动名打开数据库: postgres, mysql, sqlite
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, types.NewConfigError("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrHistoryUnavailable, "failed to open database").WithCause(err)
	}
	return db, nil
}

// NewStore 创建历史存储并迁移表结构
func NewStore(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WriteRetries <= 0 {
		config.WriteRetries = 1
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&OutcomeRecord{}, &AttemptRecord{}); err != nil {
		return nil, types.NewError(types.ErrHistoryUnavailable, "failed to migrate history tables").WithCause(err)
	}

	s := &Store{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "conversion_history")),
		now:    time.Now,
	}

	s.logger.Info("conversion history initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return s, nil
}

// =============================================================================
// 🎯 写入
// =============================================================================

// OnOutcome 实现 pipeline.Observer；写入失败只记录日志
func (s *Store) OnOutcome(ctx context.Context, ev pipeline.Event) {
	if err := s.Record(ctx, ev); err != nil {
		s.logger.Error("failed to record conversion outcome",
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}

// Record 持久化一次终态事件及其尝试历史
func (s *Store) Record(ctx context.Context, ev pipeline.Event) error {
	rec, err := newOutcomeRecord(ev, s.now())
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	// 请求被取消时仍然记录终态
	ctx = context.WithoutCancel(ctx)
	if s.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.WriteTimeout)
		defer cancel()
	}

	return s.withTransactionRetry(ctx, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
}

// =============================================================================
// 🔍 查询
// =============================================================================

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("conversion outcome not found")

// Query 历史查询条件
type Query struct {
	Schema  string
	Outcome pipeline.Outcome
	Since   time.Time
	Limit   int
}

// ByRequestID 按请求 ID 查询，附带按序号排列的尝试记录
func (s *Store) ByRequestID(ctx context.Context, requestID string) (*OutcomeRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rec OutcomeRecord
	err = db.WithContext(ctx).
		Preload("AttemptRows", func(tx *gorm.DB) *gorm.DB { return tx.Order("number ASC") }).
		Where("request_id = ?", requestID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome: %w", err)
	}
	return &rec, nil
}

// Recent 按时间倒序列出终态记录（不含尝试明细）
func (s *Store) Recent(ctx context.Context, q Query) ([]OutcomeRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	tx := db.WithContext(ctx).Model(&OutcomeRecord{})
	if q.Schema != "" {
		tx = tx.Where("schema_name = ?", q.Schema)
	}
	if q.Outcome != "" {
		tx = tx.Where("outcome = ?", string(q.Outcome))
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since)
	}

	var out []OutcomeRecord
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return out, nil
}

// CountByOutcome 统计自 since 以来各终态的数量
func (s *Store) CountByOutcome(ctx context.Context, since time.Time) (map[pipeline.Outcome]int64, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Outcome string
		Total   int64
	}
	tx := db.WithContext(ctx).Model(&OutcomeRecord{}).Select("outcome, count(*) AS total")
	if !since.IsZero() {
		tx = tx.Where("created_at >= ?", since)
	}
	if err := tx.Group("outcome").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	out := make(map[pipeline.Outcome]int64, len(rows))
	for _, r := range rows {
		out[pipeline.Outcome(r.Outcome)] = r.Total
	}
	return out, nil
}

// Prune 删除早于 before 的记录，返回删除的终态记录数
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if _, err := s.handle(); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.withTransactionRetry(ctx, func(tx *gorm.DB) error {
		old := tx.Model(&OutcomeRecord{}).Select("id").Where("created_at < ?", before)
		if err := tx.Where("outcome_id IN (?)", old).Delete(&AttemptRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("created_at < ?", before).Delete(&OutcomeRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("pruned conversion history", zap.Int64("deleted", deleted), zap.Time("before", before))
	}
	return deleted, nil
}

// =============================================================================
// 🏥 连接管理
// =============================================================================

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.sqlDB.PingContext(ctx)
}

// PoolStats 连接池统计信息
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Stats 获取连接池统计信息
func (s *Store) Stats() PoolStats {
	stats := s.sqlDB.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Info("closing conversion history")

	return s.sqlDB.Close()
}

// ErrClosed 存储已关闭
var ErrClosed = errors.New("conversion history is closed")

func (s *Store) handle() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// =============================================================================
// 🔄 事务管理
// =============================================================================

// withTransactionRetry 在事务中执行函数，遇到可重试错误时指数退避
func (s *Store) withTransactionRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error

	for i := 0; i < s.config.WriteRetries; i++ {
		db, err := s.handle()
		if err != nil {
			return err
		}

		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return types.NewError(types.ErrHistoryUnavailable, "history write failed").WithCause(err)
		}

		s.logger.Warn("history transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", s.config.WriteRetries),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(i)) * 50 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.NewError(types.ErrHistoryUnavailable, "history write cancelled").WithCause(ctx.Err())
		case <-timer.C:
		}
	}

	return types.NewError(types.ErrHistoryUnavailable,
		fmt.Sprintf("history write failed after %d attempts", s.config.WriteRetries)).WithCause(lastErr)
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"database is locked", "sqlite_busy",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var _ pipeline.Observer = (*Store)(nil)
