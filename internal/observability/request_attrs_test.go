package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestSpanAttributes(t *testing.T) {
	attrs := RequestSpanAttributes(RequestMeta{
		Action: "read", Resource: "products", Schema: "public", Role: "web_anon",
		EmbedDepth: 2, Embeds: 3,
	})
	assert.Contains(t, attrs, attribute.String("api.resource", "products"))
	assert.Contains(t, attrs, attribute.Int("api.embed.depth", 2))
	assert.Contains(t, attrs, attribute.Int("api.embed.count", 3))
	assert.Len(t, attrs, 6)
}

func TestRequestSpanAttributes_SkipsEmpty(t *testing.T) {
	assert.Empty(t, RequestSpanAttributes(RequestMeta{}))
}

func TestRequestLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	fields := RequestLogFields(ctx, RequestMeta{Action: "read", Role: "web_anon"})

	assert.Contains(t, fields, slog.String("trace_id", spanCtx.TraceID().String()))
	assert.Contains(t, fields, slog.String("role", "web_anon"))
}
