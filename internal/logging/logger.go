package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
)

// 单条日志中帧数据最多输出的字节数
const maxHexBytes = 512

// InitLogger stdout + 可选的 lumberjack 滚动文件；error 及以上带堆栈
func InitLogger(cfg cfgpkg.LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	out := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.File.Filename != "" {
		out = append(out, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}))
	}
	return newLogger(enc, zapcore.NewMultiWriteSyncer(out...), level), nil
}

func newLogger(enc zapcore.Encoder, ws zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339Nano),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	switch strings.ToLower(format) {
	case "", "json":
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("logging.format: unsupported %q", format)
	}
}

// ParseLevel 空串为 info；warning 等同 warn
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return l, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

// Hex 帧数据以十六进制输出（过长截断）
func Hex(key string, b []byte) zap.Field {
	if len(b) > maxHexBytes {
		return zap.String(key, hex.EncodeToString(b[:maxHexBytes])+"...")
	}
	return zap.String(key, hex.EncodeToString(b))
}
