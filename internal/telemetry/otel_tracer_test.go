package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestOtelTracerStartReturnsUsableSpan(t *testing.T) {
	tracer := NewOtelTracer("mcpgw/test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	require.NotPanics(t, func() {
		span.AddEvent("step", "name", "match", "confidence", 0.9)
		span.SetStatus(codes.Ok, "done")
		span.RecordError(errors.New("boom"))
		span.End()
	})
}

func TestAttrsFromKVPairsUpOddTrailingKeyIsDropped(t *testing.T) {
	attrs := attrsFromKV([]any{"a", 1, "b", "two", "dangling"})
	require.Len(t, attrs, 2)
	require.Equal(t, "a", string(attrs[0].Key))
	require.Equal(t, "1", attrs[0].Value.AsString())
	require.Equal(t, "b", string(attrs[1].Key))
	require.Equal(t, "two", attrs[1].Value.AsString())
}
