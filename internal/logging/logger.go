package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iWaraxe/L3StructuredOutput-sub000/config"
)

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// New 根据配置构建 logger；返回的 closer 用于刷新并关闭轮转文件
func New(cfg config.LogConfig) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encoder := newEncoder(cfg.Format)
	atomic := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	var closers []func()

	// 普通输出路径: stdout, stderr 或文件
	if len(cfg.OutputPaths) > 0 {
		sink, closeSink, err := zap.Open(cfg.OutputPaths...)
		if err != nil {
			return nil, nil, fmt.Errorf("open log outputs: %w", err)
		}
		closers = append(closers, closeSink)
		cores = append(cores, zapcore.NewCore(encoder, sink, atomic))
	}

	// 轮转文件
	var rotator *lumberjack.Logger
	if cfg.Rotation.Filename != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.Rotation.Filename,
			MaxSize:    cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		}
		// 文件始终使用 JSON 编码
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(rotator), atomic))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() error { return nil }, nil
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), opts...)

	closer := func() error {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}

	return logger, closer, nil
}

// ParseLevel 解析日志级别，空值视为 info
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
