package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, token, secret string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	require.NoError(t, err)
	return claims
}

func TestMint(t *testing.T) {
	now := time.Now()
	token, err := mint(mintOptions{
		secret:    "reallyreallyreallyreallyverysafe",
		algorithm: "hs384",
		role:      "web_user",
		roleClaim: "app.auth.role",
		subject:   "u1",
		audience:  "api, admin",
		expires:   time.Hour,
		extra:     []string{"email=u1@example.com"},
	}, now)
	require.NoError(t, err)

	claims := parse(t, token, "reallyreallyreallyreallyverysafe")
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "u1@example.com", claims["email"])
	assert.Equal(t, []any{"api", "admin"}, claims["aud"])
	assert.Equal(t, float64(now.Add(time.Hour).Unix()), claims["exp"])

	app := claims["app"].(map[string]any)
	auth := app["auth"].(map[string]any)
	assert.Equal(t, "web_user", auth["role"])
}

func TestMint_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts mintOptions
	}{
		{name: "missing secret", opts: mintOptions{algorithm: "HS256"}},
		{name: "asymmetric algorithm", opts: mintOptions{secret: "s", algorithm: "RS256"}},
		{name: "unknown algorithm", opts: mintOptions{secret: "s", algorithm: "none"}},
		{name: "malformed claim", opts: mintOptions{secret: "s", algorithm: "HS256", extra: []string{"nokey"}}},
		{name: "empty role path segment", opts: mintOptions{secret: "s", algorithm: "HS256", role: "r", roleClaim: "a..b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mint(tt.opts, time.Now())
			assert.Error(t, err)
		})
	}
}
