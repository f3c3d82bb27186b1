package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const backendTracerName = "agentmux-backend"

func backendTracer() trace.Tracer {
	return Tracer(backendTracerName)
}

// TraceSpawn creates a span covering one agent spawn on a backend.
func TraceSpawn(ctx context.Context, backendKind, agentID string) (context.Context, trace.Span) {
	ctx, span := backendTracer().Start(ctx, "backend.spawn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("backend", backendKind),
		attribute.String("agent_id", agentID),
	)
	return ctx, span
}

// TraceCleanup creates a span covering backend teardown.
func TraceCleanup(ctx context.Context, backendKind string, agents int) (context.Context, trace.Span) {
	ctx, span := backendTracer().Start(ctx, "backend.cleanup",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("backend", backendKind),
		attribute.Int("agents", agents),
	)
	return ctx, span
}

// TraceResult records an error, if any, on the span.
func TraceResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
