package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"pgrest/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNormalizeHTTPSpanRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/graphql", "/graphql"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/admin/reload-schema", "/admin/reload-schema"},
		{"/rpc/add", "/rpc/{function}"},
		{"/rpc/add/extra", "/*"},
		{"/products", "/{table}"},
		{"/products/1", "/*"},
		{"", "/*"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHTTPSpanRoute(tt.path))
		})
	}
}

func TestHTTPRootSpanName(t *testing.T) {
	assert.Equal(t, "HTTP /*", httpRootSpanName(nil))

	req := httptest.NewRequest(http.MethodPatch, "/orders?id=eq.1", nil)
	assert.Equal(t, "PATCH /{table}", httpRootSpanName(req))
}

func TestWrapHTTPHandler_NamesRootSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	cfg := &config.Config{}
	cfg.Observability.TracingEnabled = true
	handler := wrapHTTPHandler(cfg, testLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/rpc/add_them", "/customers"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /rpc/{function}", spans[0].Name())
	assert.Equal(t, "GET /{table}", spans[1].Name())
}

func TestWrapHTTPHandler_CORSPreflight(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.CORSEnabled = true
	cfg.Server.CORSAllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.CORSAllowedMethods = []string{"GET", "POST"}
	cfg.Server.CORSAllowedHeaders = []string{"Authorization", "Content-Type"}

	called := false
	handler := wrapHTTPHandler(cfg, testLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/products", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildEngine_RejectsUnknownMaxRowsMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.API.MaxRowsMode = "truncate"
	_, err := buildEngine(cfg, nil, telemetry{})
	assert.Error(t, err)

	cfg.API.MaxRowsMode = "reject"
	eng, err := buildEngine(cfg, nil, telemetry{})
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestJWTAuthConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.JWTAudience = "api"
	cfg.Auth.RoleClaim = "app.role"
	cfg.API.AnonRole = "web_anon"

	got := jwtAuthConfig(cfg)
	assert.Equal(t, "secret", got.Secret)
	assert.Equal(t, "api", got.Audience)
	assert.Equal(t, "app.role", got.RoleClaim)
	assert.Equal(t, "web_anon", got.AnonRole)
}
