package resolver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pgrest/internal/apierror"
)

func startResolverSpan(ctx context.Context, name string, info *tableInfo) (context.Context, trace.Span) {
	tracer := otel.Tracer("pgrest/resolver")
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("graphql.type", info.typeName),
		attribute.String("db.sql.table", info.table.QualifiedName().String()),
	)
	return ctx, span
}

func finishResolverSpan(span trace.Span, err error, rows int) {
	if span == nil {
		return
	}
	if err == nil {
		span.SetAttributes(
			attribute.String("graphql.resolver.outcome", "success"),
			attribute.Int("graphql.resolver.rows", rows),
		)
		return
	}
	span.SetAttributes(attribute.String("graphql.resolver.outcome", "error"))
	if apiErr, ok := apierror.As(err); ok {
		span.SetAttributes(attribute.String("error.code", apiErr.Code))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
