package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pgrest/internal/apierror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenAuthMiddleware(t *testing.T) {
	mw, err := AdminTokenAuthMiddleware(AdminTokenAuthConfig{Token: "secret-token", Operation: "reload_schema"}, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", header: "wrong-token", wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "secret-token", wantStatus: http.StatusNoContent},
		{name: "surrounding whitespace", header: "  secret-token ", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				auth, ok := AuthFromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, "admin_token", auth.Subject)
				assert.Equal(t, "admin_token", auth.Claims["auth_method"])
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil)
			if tt.header != "" {
				req.Header.Set(defaultAdminTokenHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				var body apierror.Body
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, apierror.CodeJWT, body.Code)
				assert.Equal(t, "invalid admin token", body.Message)
			}
		})
	}
}

func TestAdminTokenAuthMiddleware_CustomHeader(t *testing.T) {
	mw, err := AdminTokenAuthMiddleware(AdminTokenAuthConfig{Token: "t", HeaderName: "X-Ops-Token"}, nil)
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil)
	req.Header.Set("X-Ops-Token", "t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminTokenAuthMiddleware_RequiresToken(t *testing.T) {
	_, err := AdminTokenAuthMiddleware(AdminTokenAuthConfig{Token: "  "}, nil)
	require.Error(t, err)
}
