package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pgrest"

// RequestMetrics holds custom metrics for API requests
type RequestMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	embedDepth      metric.Int64Histogram
	resultsCount    metric.Int64Histogram
	stageDuration   metric.Float64Histogram
}

// InitRequestMetrics initializes request metrics
func InitRequestMetrics() (*RequestMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"api.request.duration",
		metric.WithDescription("Duration of API requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"api.requests.total",
		metric.WithDescription("Total number of API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"api.errors.total",
		metric.WithDescription("Total number of failed API requests by error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"api.requests.active",
		metric.WithDescription("Number of active API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	embedDepth, err := meter.Int64Histogram(
		"api.embed.depth",
		metric.WithDescription("Embedding depth of planned statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embed depth histogram: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"api.results.count",
		metric.WithDescription("Number of rows returned per request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"api.stage.duration",
		metric.WithDescription("Duration of request pipeline stages in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	return &RequestMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		embedDepth:      embedDepth,
		resultsCount:    resultsCount,
		stageDuration:   stageDuration,
	}, nil
}

// RecordRequest records a request with its duration and outcome. errorCode is
// empty for successful requests.
func (m *RequestMetrics) RecordRequest(ctx context.Context, duration time.Duration, action, errorCode string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("action", action),
		attribute.Bool("has_errors", errorCode != ""),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorCode != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("code", errorCode),
		))
	}
}

// RecordStage records the duration of one pipeline stage.
func (m *RequestMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordEmbedDepth records the embedding depth of a planned statement
func (m *RequestMetrics) RecordEmbedDepth(ctx context.Context, depth int64, action string) {
	if m == nil {
		return
	}
	m.embedDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordResultsCount records the number of rows returned
func (m *RequestMetrics) RecordResultsCount(ctx context.Context, count int64, action string) {
	if m == nil {
		return
	}
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *RequestMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *RequestMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the RequestMetrics instance
func InitMetrics(logger *slog.Logger) (*RequestMetrics, error) {
	metrics, err := InitRequestMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize request metrics: %w", err)
	}

	logger.Info("custom request metrics initialized")
	return metrics, nil
}
