package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Development switches to the human-readable console encoder.
	Development bool
	Level       string
	// File, when set, receives a JSON copy of every entry.
	File string
}

// New builds the process logger. The returned close func flushes and
// releases the optional log file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(cfg.Level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(cfg.Level); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level.SetLevel(parsed)
	}

	base := zap.NewProductionConfig()
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
	}
	base.Level = level
	base.DisableStacktrace = true

	var file *os.File
	opts := []zap.Option{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(f), level)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := base.Build(opts...)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	closeFn := func() error {
		// stdout/stderr sync errors are not actionable
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

// WithCorrelation scopes a logger to one request.
func WithCorrelation(logger *zap.Logger, corrID, actorID string) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if corrID != "" {
		fields = append(fields, zap.String("correlationId", corrID))
	}
	if actorID != "" {
		fields = append(fields, zap.String("actorId", actorID))
	}
	return logger.With(fields...)
}

type corrKey struct{}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(corrKey{}).(string)
	return id
}
