package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for sync-pass spans.
var (
	AttrForumID  = attribute.Key("threadsync.forum.id")
	AttrTraceID  = attribute.Key("threadsync.pass.trace_id")
	AttrOrigin   = attribute.Key("threadsync.sync.origin")
	AttrTagCount = attribute.Key("threadsync.tagmap.entries")
)

// StartSpan starts an internal span with common attributes attached.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call to the platform API.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
