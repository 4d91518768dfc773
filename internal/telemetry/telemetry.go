// Package telemetry provides the logging, metrics, and tracing interfaces
// used across the gateway. Components depend on these interfaces rather
// than a concrete backend so call sites stay testable with no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines with key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans. Start returns a context carrying the new span
	// together with the Span handle itself.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of span operations components need: event
	// annotation, status, and error recording.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, kv ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
