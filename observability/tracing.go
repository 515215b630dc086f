package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer behind the start/stop span surface
// the lease package calls through.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer scoped to the given instrumentation name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.GetTracerProvider().Tracer(name)}
}

// Start opens a span for op tagged with alternating key/value attributes.
// The returned func ends the span; a non-empty outcome other than "ok" marks
// the span as failed.
func (t *Tracer) Start(ctx context.Context, op string, attributes ...string) (context.Context, func(outcome string)) {
	attrs := attributesFromTags(attributes)
	ctx, span := t.tracer.Start(ctx, op, trace.WithAttributes(attrs...))

	return ctx, func(outcome string) {
		if outcome != "" {
			span.SetAttributes(attribute.String("outcome", outcome))
			if outcome != "ok" {
				span.SetStatus(codes.Error, outcome)
			}
		}
		span.End()
	}
}
