// Command jwt-mint prints an HMAC-signed token for local testing against a
// server configured with the same auth.jwt_secret.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
)

type mintOptions struct {
	secret    string
	algorithm string
	role      string
	roleClaim string
	subject   string
	audience  string
	expires   time.Duration
	extra     []string
}

func main() {
	opts := mintOptions{}
	pflag.StringVar(&opts.secret, "secret", os.Getenv("PGREST_AUTH_JWT_SECRET"), "HMAC secret (defaults to $PGREST_AUTH_JWT_SECRET)")
	pflag.StringVar(&opts.algorithm, "alg", "HS256", "Signing algorithm: HS256, HS384 or HS512")
	pflag.StringVar(&opts.role, "role", "", "Database role to embed")
	pflag.StringVar(&opts.roleClaim, "role-claim", "role", "Dotted claim path that carries the role")
	pflag.StringVar(&opts.subject, "subject", "", "sub claim (optional)")
	pflag.StringVar(&opts.audience, "audience", "", "aud claim, comma-separated (optional)")
	pflag.DurationVar(&opts.expires, "expires", time.Hour, "Token lifetime; 0 omits exp")
	pflag.StringSliceVar(&opts.extra, "claim", nil, "Extra string claim as key=value (repeatable)")
	pflag.Parse()

	signed, err := mint(opts, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(signed)
}

func mint(opts mintOptions, now time.Time) (string, error) {
	if opts.secret == "" {
		return "", fmt.Errorf("a secret is required (--secret or PGREST_AUTH_JWT_SECRET)")
	}
	method := jwt.GetSigningMethod(strings.ToUpper(opts.algorithm))
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", fmt.Errorf("unsupported algorithm %q", opts.algorithm)
	}

	claims := jwt.MapClaims{"iat": now.Unix()}
	if opts.expires > 0 {
		claims["exp"] = now.Add(opts.expires).Unix()
	}
	if opts.subject != "" {
		claims["sub"] = opts.subject
	}
	if aud := splitList(opts.audience); len(aud) > 0 {
		claims["aud"] = aud
	}
	for _, kv := range opts.extra {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return "", fmt.Errorf("invalid claim %q, expected key=value", kv)
		}
		claims[key] = value
	}
	if opts.role != "" {
		if err := setPath(claims, opts.roleClaim, opts.role); err != nil {
			return "", err
		}
	}

	return jwt.NewWithClaims(method, claims).SignedString([]byte(opts.secret))
}

// setPath writes value at a dotted path, creating nested objects as needed.
func setPath(claims jwt.MapClaims, path, value string) error {
	parts := strings.Split(path, ".")
	current := map[string]any(claims)
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid role claim path %q", path)
		}
		if i == len(parts)-1 {
			current[part] = value
			return nil
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	return nil
}

func splitList(value string) []string {
	raw := strings.Split(value, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
