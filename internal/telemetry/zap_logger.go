package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// zapLogger adapts a *zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger at level and adapts it to
// Logger. level is one of "debug", "info", "warn", "error"; anything else
// falls back to "info".
func NewZapLogger(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: l.Sugar()}, nil
}

func (l *zapLogger) Debug(_ context.Context, msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(_ context.Context, msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(_ context.Context, msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(_ context.Context, msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }
