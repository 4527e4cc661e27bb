// logging.go - zap loggers for the daemon and its audit trail.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"veil/internal/config"
)

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

func encoder(name string) (zapcore.Encoder, error) {
	switch name {
	case "", "json":
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	case "console":
		return zapcore.NewConsoleEncoder(encoderConfig()), nil
	default:
		return nil, fmt.Errorf("unknown log encoding %q", name)
	}
}

func rotating(cfg config.LoggingConfig, path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// New builds the main logger. It always writes to stderr and, when cfg.File is set, to a
// rotated file as well.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	enc, err := encoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, rotating(cfg, cfg.File))
	}
	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// NewAudit builds the audit logger. Audit entries are always JSON at info level and go
// only to cfg.AuditFile. With no audit file the returned logger discards everything.
func NewAudit(cfg config.LoggingConfig) *zap.Logger {
	if cfg.AuditFile == "" {
		return zap.NewNop()
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), rotating(cfg, cfg.AuditFile), zapcore.InfoLevel)
	return zap.New(core).Named("audit")
}
