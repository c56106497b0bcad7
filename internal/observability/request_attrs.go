package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestMeta describes one API request for spans and logs.
type RequestMeta struct {
	Action      string
	Resource    string
	Schema      string
	Role        string
	Fingerprint string
	EmbedDepth  int
	Embeds      int
}

// RequestSpanAttributes builds canonical span attributes for a request.
func RequestSpanAttributes(meta RequestMeta) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 7)
	if meta.Action != "" {
		attrs = append(attrs, attribute.String("api.action", meta.Action))
	}
	if meta.Resource != "" {
		attrs = append(attrs, attribute.String("api.resource", meta.Resource))
	}
	if meta.Schema != "" {
		attrs = append(attrs, attribute.String("db.schema", meta.Schema))
	}
	if meta.Role != "" {
		attrs = append(attrs, attribute.String("auth.role", meta.Role))
	}
	if meta.Fingerprint != "" {
		attrs = append(attrs, attribute.String("schema.fingerprint", meta.Fingerprint))
	}
	if meta.EmbedDepth > 0 {
		attrs = append(attrs,
			attribute.Int("api.embed.depth", meta.EmbedDepth),
			attribute.Int("api.embed.count", meta.Embeds),
		)
	}
	return attrs
}

// RequestLogFields builds canonical structured log fields for a request.
func RequestLogFields(ctx context.Context, meta RequestMeta) []any {
	fields := make([]any, 0, 6)
	if meta.Action != "" {
		fields = append(fields, slog.String("action", meta.Action))
	}
	if meta.Resource != "" {
		fields = append(fields, slog.String("resource", meta.Resource))
	}
	if meta.Schema != "" {
		fields = append(fields, slog.String("schema", meta.Schema))
	}
	if meta.Role != "" {
		fields = append(fields, slog.String("role", meta.Role))
	}
	if meta.Fingerprint != "" {
		fields = append(fields, slog.String("schema_fingerprint", meta.Fingerprint))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
