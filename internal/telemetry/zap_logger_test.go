package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewZapLoggerBuildsAtEachLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewZapLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}

func TestNewZapLoggerFallsBackToInfoOnInvalidLevel(t *testing.T) {
	logger, err := NewZapLogger("not-a-level")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestZapLoggerMethodsDoNotPanic(t *testing.T) {
	logger, err := NewZapLogger("debug")
	require.NoError(t, err)

	ctx := context.Background()
	require.NotPanics(t, func() {
		logger.Debug(ctx, "debug message", "key", "value")
		logger.Info(ctx, "info message", "count", 3)
		logger.Warn(ctx, "warn message")
		logger.Error(ctx, "error message", "err", "boom")
	})
}
