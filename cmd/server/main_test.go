package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"pgrest/internal/config"
)

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name      string
		result    config.ValidationResult
		expectErr bool
		wantLog   []string
	}{
		{
			name: "warnings only",
			result: config.ValidationResult{
				Warnings: []config.ValidationWarning{{Field: "auth.jwt_secret", Message: "not set"}},
			},
			wantLog: []string{"configuration warning", "auth.jwt_secret"},
		},
		{
			name: "errors fail",
			result: config.ValidationResult{
				Errors: []config.ValidationError{{Field: "api.schemas", Message: "at least one schema is required"}},
			},
			expectErr: true,
			wantLog:   []string{"configuration error", "api.schemas"},
		},
		{
			name: "clean result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := reportValidation(logger, &tt.result)
			if tt.expectErr && err == nil {
				t.Fatalf("expected error, got none")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.wantLog {
				if !strings.Contains(buf.String(), want) {
					t.Fatalf("log output %q missing %q", buf.String(), want)
				}
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	if got := versionString(); got != "pgrest dev (none)" {
		t.Fatalf("unexpected version string %q", got)
	}
}
