// Package telemetryhook wraps OpenTelemetry tracing and metrics behind a
// small interface, matching the teacher framework's Telemetry/Span
// abstraction and its no-op mode when telemetry is disabled.
package telemetryhook

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span is a started trace span with error and attribute setters, mirroring
// the teacher's core.Span contract.
type Span interface {
	End()
	SetError(err error)
	SetAttribute(key string, value interface{})
}

// Telemetry starts spans and records metrics for one named component.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordCounter(ctx context.Context, name string, value int64, attrs map[string]string)
	RecordDuration(ctx context.Context, name string, seconds float64, attrs map[string]string)
}

// otelSpan adapts an otel trace.Span to the Span interface.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attribute.String(key, toString(value)))
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return ""
	}
}

// otelTelemetry is the live backend, used when telemetry.enabled=true.
type otelTelemetry struct {
	tracer  trace.Tracer
	counter metric.Int64Counter
	hist    metric.Float64Histogram
}

// New builds a live Telemetry backed by the global otel providers. Callers
// are expected to have configured a TracerProvider/MeterProvider (or left
// the otel defaults, which themselves no-op) before calling this.
func New(serviceName string) Telemetry {
	tracer := otel.Tracer(serviceName)
	meter := otel.Meter(serviceName)
	counter, _ := meter.Int64Counter(serviceName + ".events")
	hist, _ := meter.Float64Histogram(serviceName + ".duration_seconds")
	return &otelTelemetry{tracer: tracer, counter: counter, hist: hist}
}

func (t *otelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name)
	return newCtx, &otelSpan{span: span}
}

func (t *otelTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs map[string]string) {
	if t.counter == nil {
		return
	}
	t.counter.Add(ctx, value, metric.WithAttributes(toAttrSet(attrs, name)...))
}

func (t *otelTelemetry) RecordDuration(ctx context.Context, name string, seconds float64, attrs map[string]string) {
	if t.hist == nil {
		return
	}
	t.hist.Record(ctx, seconds, metric.WithAttributes(toAttrSet(attrs, name)...))
}

func toAttrSet(attrs map[string]string, event string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+1)
	out = append(out, attribute.String("event", event))
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}

// noOpSpan discards everything, matching the teacher's NoOpSpan.
type noOpSpan struct{}

func (noOpSpan) End()                                 {}
func (noOpSpan) SetError(error)                       {}
func (noOpSpan) SetAttribute(string, interface{})     {}

// NoOp is a Telemetry that never touches otel, used by default in mock mode.
type NoOp struct{}

func (NoOp) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOp) RecordCounter(context.Context, string, int64, map[string]string)    {}
func (NoOp) RecordDuration(context.Context, string, float64, map[string]string) {}
