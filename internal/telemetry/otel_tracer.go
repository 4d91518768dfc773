package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// attrsFromKV turns alternating key/value pairs (as accepted by Logger and
// Span.AddEvent) into otel attributes, stringifying values since callers
// pass a mix of types through the variadic any.
func attrsFromKV(kv []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		attrs = append(attrs, attribute.String(key, fmt.Sprint(kv[i+1])))
	}
	return attrs
}

// otelTracer adapts the globally configured otel TracerProvider to Tracer.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps the tracer registered under instrumentationName on
// the process-wide otel TracerProvider (configured by whatever exporter
// the deployment wires up; a no-op provider if none is registered).
func NewOtelTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, kv ...any) {
	s.span.AddEvent(name, trace.WithAttributes(attrsFromKV(kv)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }
