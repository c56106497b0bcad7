package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pgrest/internal/apierror"
)

func startStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("pgrest/engine")
	ctx, span := tracer.Start(ctx, "engine."+stage)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishStageSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err == nil {
		span.SetAttributes(attribute.String("engine.stage.outcome", "success"))
		return
	}
	span.SetAttributes(attribute.String("engine.stage.outcome", "error"))
	if apiErr, ok := apierror.As(err); ok {
		span.SetAttributes(
			attribute.String("error.code", apiErr.Code),
			attribute.String("error.kind", apiErr.Kind.String()),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// stage runs one pipeline step inside its own span and records its duration.
func (e *Engine) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := startStageSpan(ctx, name)
	start := time.Now()
	err := fn(ctx)
	e.metrics.RecordStage(ctx, name, time.Since(start))
	finishStageSpan(span, err)
	span.End()
	return err
}
