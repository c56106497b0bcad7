package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pgrest/internal/apierror"
	"pgrest/internal/logging"
	"pgrest/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// JWTAuthConfig controls bearer token verification.
type JWTAuthConfig struct {
	// Secret is the HMAC key. Empty means every request is anonymous and any
	// presented token is rejected.
	Secret   string
	Audience string
	// RoleClaim is a dotted path into the claims, e.g. "role" or "app.role".
	RoleClaim string
	// AnonRole serves requests without a token. Empty rejects them.
	AnonRole  string
	ClockSkew time.Duration
}

type authContextKey struct{}

// AuthContext is the verified caller attached to a request context.
type AuthContext struct {
	Subject   string
	Role      string
	Anonymous bool
	Claims    map[string]interface{}
	// RawClaims is the JSON form handed to the database as request.jwt.claims.
	RawClaims []byte
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// WithAuthContext attaches auth to ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// JWTAuthMiddleware resolves the database role for each request from its bearer
// token, falling back to the anonymous role when no token is sent.
func JWTAuthMiddleware(cfg JWTAuthConfig, metrics *observability.SecurityMetrics) func(http.Handler) http.Handler {
	roleClaim := strings.TrimSpace(cfg.RoleClaim)
	if roleClaim == "" {
		roleClaim = "role"
	}
	claimPath := strings.Split(roleClaim, ".")

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacMethods),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithJSONNumber(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.Secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			endpoint := r.URL.Path
			logger := logging.FromContext(ctx)

			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				if cfg.AnonRole == "" {
					metrics.RecordAuthFailure(ctx, endpoint, "anonymous_disabled")
					writeError(w, apierror.Unauthorized("Anonymous access is disabled"))
					return
				}
				metrics.RecordAnonymous(ctx, endpoint)
				auth := AuthContext{Role: cfg.AnonRole, Anonymous: true, RawClaims: []byte(`{}`)}
				next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, auth)))
				return
			}

			metrics.RecordAuthAttempt(ctx, endpoint)
			tokenString := bearerToken(header)
			if tokenString == "" {
				metrics.RecordAuthFailure(ctx, endpoint, "malformed_header")
				writeError(w, apierror.Unauthorized("Authorization header must use the Bearer scheme"))
				return
			}
			if len(secret) == 0 {
				metrics.RecordAuthFailure(ctx, endpoint, "no_secret")
				writeError(w, apierror.New(apierror.KindTransport, apierror.CodeJWT,
					http.StatusInternalServerError, "Server lacks JWT secret"))
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				reason := tokenFailureReason(err)
				metrics.RecordAuthFailure(ctx, endpoint, reason)
				logger.Warn("bearer token rejected",
					slog.String("reason", reason),
					slog.String("error", err.Error()),
					slog.String("endpoint", endpoint),
				)
				writeError(w, apierror.Unauthorized(tokenFailureMessage(reason)))
				return
			}

			role := cfg.AnonRole
			if value, ok := lookupClaim(claims, claimPath); ok {
				s, isString := value.(string)
				if !isString || s == "" {
					metrics.RecordAuthFailure(ctx, endpoint, "invalid_role_claim")
					writeError(w, apierror.Unauthorized("The "+roleClaim+" claim must be a non-empty string"))
					return
				}
				role = s
			}
			if role == "" {
				metrics.RecordAuthFailure(ctx, endpoint, "missing_role")
				writeError(w, apierror.Unauthorized("The token carries no "+roleClaim+" claim and anonymous access is disabled"))
				return
			}

			raw, err := json.Marshal(claims)
			if err != nil {
				writeError(w, err)
				return
			}
			subject, _ := claims.GetSubject()

			metrics.RecordAuthSuccess(ctx, endpoint, role)
			logger.Debug("bearer token accepted",
				slog.String("subject", subject),
				slog.String("role", role),
			)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", subject),
					attribute.String("auth.role", role),
					attribute.Bool("auth.authenticated", true),
				)
			}

			auth := AuthContext{Subject: subject, Role: role, Claims: claims, RawClaims: raw}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, auth)))
		})
	}
}

func bearerToken(value string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// lookupClaim walks a dotted claim path through nested objects.
func lookupClaim(claims map[string]interface{}, path []string) (interface{}, bool) {
	var current interface{} = claims
	for _, key := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not_yet_valid"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}

func tokenFailureMessage(reason string) string {
	switch reason {
	case "expired":
		return "JWT expired"
	case "not_yet_valid":
		return "JWT is not valid yet"
	case "audience":
		return "JWT not in audience"
	case "malformed":
		return "Expected 3 parts in JWT"
	default:
		return "JWT invalid"
	}
}
