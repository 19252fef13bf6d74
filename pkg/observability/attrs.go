// Engine-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResolutionAttrs builds the attribute set for one inference resolution.
func ResolutionAttrs(operation string, tier int, cacheHit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		attribute.Int(AttrTier, tier),
		attribute.Bool(AttrCacheHit, cacheHit),
	}
}

// OperationAttrs builds the attribute set for one engine operation.
func OperationAttrs(userID, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrUser, userID),
		attribute.String(AttrOperation, operation),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
