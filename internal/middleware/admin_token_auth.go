package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/observability"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	// Operation labels the admin access metric, e.g. "reload_schema".
	Operation string
}

// AdminTokenAuthMiddleware validates a shared admin token from request headers.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultAdminTokenHeader
	}
	operation := cfg.Operation
	if operation == "" {
		operation = "admin"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			ok := constantTimeTokenMatch(provided, token)
			metrics.RecordAdminEndpointAccess(r.Context(), operation, ok)
			if !ok {
				writeError(w, apierror.Unauthorized("invalid admin token"))
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: "admin_token",
				Claims:  map[string]interface{}{"auth_method": "admin_token"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// constantTimeTokenMatch compares digests so token length does not leak.
func constantTimeTokenMatch(provided string, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}
