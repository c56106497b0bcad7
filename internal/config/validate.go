package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"pgrest/internal/planner"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) errorf(field, hint, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.API.validate(result)
	c.Auth.validate(result, c.API)
	c.Server.validate(result)
	c.SchemaRefresh.validate(result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.errorf("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.errorf("database.pool.max_open", "", "max_open cannot be negative")
	}
	if d.Pool.MaxIdle < 0 {
		result.errorf("database.pool.max_idle", "", "max_idle cannot be negative")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}
	if d.Pool.AcquireTimeout < 0 {
		result.errorf("database.pool.acquire_timeout", "", "acquire_timeout cannot be negative")
	}

	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warn("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
	if d.ConnectionRetryInterval < 0 {
		result.errorf("database.connection_retry_interval", "", "connection_retry_interval cannot be negative")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.errorf("database.connection_retry_interval",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
			"connection_retry_interval must be greater than 0 when connection_timeout is set")
	}
	if d.ConnectionTimeout < 0 {
		result.errorf("database.connection_timeout", "", "connection_timeout cannot be negative")
	}

	effective, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.errorf("database.dsn", "set a valid PostgreSQL URL or keyword/value DSN", "%s", err.Error())
		case strings.Contains(err.Error(), "mismatch"):
			result.errorf("database.database", "either remove database.database or set it to match the DSN", "%s", err.Error())
		default:
			result.errorf("database.database", "", "%s", err.Error())
		}
		return
	}
	d.Database = effective
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	if _, ok := sslModes[t.Mode]; !ok && t.Mode != "" {
		result.errorf("database.tls.mode", "valid values are: off, prefer, require, verify-ca, verify-full", "invalid TLS mode %q", t.Mode)
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.resolveCAFile() == "" {
		result.errorf("database.tls.ca_file", "set ca_file or ca_file_env to specify the CA certificate",
			"CA file is required for verify-ca and verify-full modes")
	}

	certFile := t.resolveCertFile()
	keyFile := t.resolveKeyFile()
	if (certFile != "") != (keyFile != "") {
		result.errorf("database.tls.cert_file", "provide both cert_file and key_file, or neither",
			"both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "require" || t.Mode == "prefer" {
		result.warn("database.tls.mode", t.Mode+" mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (a *APIConfig) validate(result *ValidationResult) {
	if len(a.Schemas) == 0 {
		result.errorf("api.schemas", "list the schemas to expose, e.g. [public]", "at least one schema must be exposed")
	}
	seen := make(map[string]bool, len(a.Schemas))
	for _, s := range a.Schemas {
		s = strings.TrimSpace(s)
		if s == "" {
			result.errorf("api.schemas", "", "schema name cannot be empty")
			continue
		}
		if seen[s] {
			result.errorf("api.schemas", "", "schema %q is listed twice", s)
		}
		seen[s] = true
	}
	if a.MaxRows < 0 {
		result.errorf("api.max_rows", "", "max_rows cannot be negative")
	}
	if _, err := planner.ParseMaxRowsMode(a.MaxRowsMode); err != nil {
		result.errorf("api.max_rows_mode", "valid values are: clamp, reject", "%s", err.Error())
	}
	if a.MaxEmbedDepth < 0 {
		result.errorf("api.max_embed_depth", "", "max_embed_depth cannot be negative")
	}
	if a.StatementTimeout < 0 {
		result.errorf("api.statement_timeout", "", "statement_timeout cannot be negative")
	}
}

func (a *AuthConfig) validate(result *ValidationResult, api APIConfig) {
	if a.JWTSecret == "" {
		if api.AnonRole == "" {
			result.warn("auth.jwt_secret", "no JWT secret and no anonymous role configured",
				"every request will be rejected; set auth.jwt_secret or api.anon_role")
		}
		if a.JWTAudience != "" || len(a.AllowedRoles) > 0 {
			result.warn("auth.jwt_secret", "token settings are set but no JWT secret is configured",
				"set auth.jwt_secret to verify bearer tokens")
		}
		return
	}
	if len(a.JWTSecret) < 32 {
		result.errorf("auth.jwt_secret", "use a secret of at least 32 characters", "JWT secret is too short")
	}
	if strings.TrimSpace(a.RoleClaim) == "" {
		result.errorf("auth.role_claim", "the default is role", "role_claim cannot be empty")
	}
	if a.ClockSkew < 0 {
		result.errorf("auth.clock_skew", "", "clock_skew cannot be negative")
	}
	if api.AnonRole != "" && len(a.AllowedRoles) > 0 {
		allowed := false
		for _, r := range a.AllowedRoles {
			if r == api.AnonRole {
				allowed = true
				break
			}
		}
		if !allowed {
			result.errorf("auth.allowed_roles", "add the anonymous role to allowed_roles",
				"anonymous role %q is not in allowed_roles", api.AnonRole)
		}
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.errorf("server.port", "", "port %d is out of valid range (1-65535)", s.Port)
	}

	if s.GraphiQLEnabled && !s.GraphQLEnabled {
		result.warn("server.graphiql_enabled", "GraphiQL is enabled but the GraphQL endpoint is disabled",
			"enable server.graphql_enabled to serve GraphiQL")
	}

	if s.Admin.SchemaReloadEnabled && s.Admin.AuthToken == "" {
		result.errorf("server.admin.auth_token", "set server.admin.auth_token or auth_token_file",
			"admin endpoints require an auth token")
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.errorf("server.cors_allowed_origins", "set cors_allowed_origins or disable CORS",
				"CORS enabled but no allowed origins configured")
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.errorf("server.cors_allowed_origins",
				"use specific origins with credentials, or wildcard without credentials",
				"wildcard origin (*) cannot be used with credentials")
		}
		if hasWildcard {
			result.warn("server.cors_allowed_origins", "CORS wildcard origin enabled",
				"use specific origins in production for better security")
		}
	}
}

func (s *SchemaRefreshConfig) validate(result *ValidationResult) {
	if s.MinInterval < 0 {
		result.errorf("schema_refresh.min_interval", "", "min_interval cannot be negative")
	}
	if s.MinInterval > 0 && s.MaxInterval < s.MinInterval {
		result.errorf("schema_refresh.max_interval", "", "max_interval must be at least min_interval")
	}
	if s.NotifyChannel != "" && strings.ContainsAny(s.NotifyChannel, " \t\"'") {
		result.errorf("schema_refresh.notify_channel", "use a plain identifier such as pgrst",
			"invalid channel name %q", s.NotifyChannel)
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.errorf("observability.logging.level", "valid values are: debug, info, warn, error", "invalid log level %q", o.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.errorf("observability.logging.format", "valid values are: json, text", "invalid log format %q", o.Logging.Format)
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.errorf("observability.trace_sample_ratio", "", "trace_sample_ratio must be between 0 and 1")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.errorf(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.errorf(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.errorf(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}

	if o.RetryMaxAttempts < 0 {
		result.errorf(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
