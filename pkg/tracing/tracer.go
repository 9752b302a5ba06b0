// Package tracing wraps go.opentelemetry.io/otel's tracer API in the
// scoped-acquisition-with-guaranteed-release shape the mirroring
// dispatcher needs around every public entry point: Start never fails,
// and every Start must be paired with exactly one End, typically via
// defer, the same way apply_configuration.go installs a global tracer
// provider once and every call site downstream only ever asks it for
// spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span is the handle returned by Start. Callers record an outcome
// with End; a nil error marks the span successful.
type Span interface {
	End(err error)
	SetAttributes(kv ...attribute.KeyValue)
}

// Tracer opens a scope around a unit of dispatch work. Implementations
// must make Start/End safe to call from any goroutine, since secondary
// and verification work runs on the adapter's worker pool.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// otelTracer adapts an otel trace.Tracer, obtained from the global
// tracer provider the way otelgrpc's interceptors do, to Tracer.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a Tracer backed by the global OpenTelemetry
// tracer provider, under the given instrumentation scope name.
func NewOTelTracer(instrumentationName string) Tracer {
	return otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t otelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s otelSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// NoopTracer discards every span; it is the Options default so that a
// mirroring table with no tracer configured costs nothing.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                           {}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}

var (
	_ Tracer = otelTracer{}
	_ Tracer = NoopTracer{}
	_ Span   = otelSpan{}
	_ Span   = noopSpan{}
)
