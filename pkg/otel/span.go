package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartConsumeSpan starts a span for an inbound bus message. It restores the
// trace context carried in the message properties and creates a consumer
// child span named after the subject or topic.
func StartConsumeSpan(ctx context.Context, tracerName, name string, meta map[string]string) (context.Context, trace.Span) {
	ctx = ExtractMeta(ctx, meta)

	ctx, span := Tracer(tracerName).Start(ctx, "consume."+name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", name)),
	)

	return ctx, span
}

// EndSpan records the outcome of the work the span covered and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
