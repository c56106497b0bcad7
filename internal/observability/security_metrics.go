package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication outcomes. A nil receiver records nothing.
type SecurityMetrics struct {
	authAttempts        metric.Int64Counter
	authFailures        metric.Int64Counter
	authSuccesses       metric.Int64Counter
	anonymousRequests   metric.Int64Counter
	adminEndpointAccess metric.Int64Counter
}

// InitSecurityMetrics initializes security-specific metrics
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(meterName + "/security")

	authAttempts, err := meter.Int64Counter(
		"security.auth.attempts.total",
		metric.WithDescription("Total number of bearer token verifications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth attempts counter: %w", err)
	}

	authFailures, err := meter.Int64Counter(
		"security.auth.failures.total",
		metric.WithDescription("Total number of rejected bearer tokens by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failures counter: %w", err)
	}

	authSuccesses, err := meter.Int64Counter(
		"security.auth.successes.total",
		metric.WithDescription("Total number of accepted bearer tokens by role"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth successes counter: %w", err)
	}

	anonymousRequests, err := meter.Int64Counter(
		"security.auth.anonymous.total",
		metric.WithDescription("Total number of requests served under the anonymous role"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous requests counter: %w", err)
	}

	adminEndpointAccess, err := meter.Int64Counter(
		"security.admin.access.total",
		metric.WithDescription("Total number of admin endpoint access attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin endpoint access counter: %w", err)
	}

	return &SecurityMetrics{
		authAttempts:        authAttempts,
		authFailures:        authFailures,
		authSuccesses:       authSuccesses,
		anonymousRequests:   anonymousRequests,
		adminEndpointAccess: adminEndpointAccess,
	}, nil
}

// RecordAuthAttempt records a bearer token verification attempt.
func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthFailure records a rejected token.
func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordAuthSuccess records an accepted token.
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, role string) {
	if m == nil {
		return
	}
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("role", role),
	))
}

// RecordAnonymous records a request that fell back to the anonymous role.
func (m *SecurityMetrics) RecordAnonymous(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.anonymousRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAdminEndpointAccess records access to admin endpoints
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated bool) {
	if m == nil {
		return
	}
	m.adminEndpointAccess.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
	))
}
