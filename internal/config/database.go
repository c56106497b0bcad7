package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// sslModes maps the configured TLS mode to libpq's sslmode.
var sslModes = map[string]string{
	"off":         "disable",
	"prefer":      "prefer",
	"require":     "require",
	"verify-ca":   "verify-ca",
	"verify-full": "verify-full",
}

// DSN returns a PostgreSQL connection URL. A configured ConnectionString is
// returned as is, with TLS parameters added when it does not set them.
func (d *DatabaseConfig) DSN() string {
	if d.ConnectionString != "" {
		return d.withTLSParams(d.ConnectionString)
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return d.withTLSParams(u.String())
}

// withTLSParams appends sslmode and certificate paths to a URL DSN. Keyword
// DSNs are extended with space separated pairs.
func (d *DatabaseConfig) withTLSParams(dsn string) string {
	params := d.tlsParams()
	if len(params) == 0 {
		return dsn
	}

	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		for _, kv := range params {
			if q.Get(kv[0]) == "" {
				q.Set(kv[0], kv[1])
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	var b strings.Builder
	b.WriteString(dsn)
	for _, kv := range params {
		if strings.Contains(dsn, kv[0]+"=") {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
	}
	return strings.TrimSpace(b.String())
}

func (d *DatabaseConfig) tlsParams() [][2]string {
	var params [][2]string
	if mode, ok := sslModes[d.TLS.Mode]; ok {
		params = append(params, [2]string{"sslmode", mode})
	}
	if ca := d.TLS.resolveCAFile(); ca != "" {
		params = append(params, [2]string{"sslrootcert", ca})
	}
	if cert := d.TLS.resolveCertFile(); cert != "" {
		params = append(params, [2]string{"sslcert", cert})
	}
	if key := d.TLS.resolveKeyFile(); key != "" {
		params = append(params, [2]string{"sslkey", key})
	}
	return params
}

// EffectiveDatabaseName returns the database the connection targets.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	return resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
}

func resolveEffectiveDatabaseName(databaseName string, connectionString string) (string, error) {
	configDatabase := strings.TrimSpace(databaseName)
	dsnDatabase, err := parseDSNDatabaseName(connectionString)
	if err != nil {
		return "", err
	}

	if configDatabase != "" {
		if dsnDatabase != "" && configDatabase != dsnDatabase {
			return "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configDatabase,
				dsnDatabase,
			)
		}
		return configDatabase, nil
	}
	if dsnDatabase != "" {
		return dsnDatabase, nil
	}
	return "", fmt.Errorf("no database configured: set database.database or include it in database.dsn")
}

func parseDSNDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}
	parsed, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.Database), nil
}

func (t *DatabaseTLSConfig) resolveCAFile() string {
	return resolveFileEnv(t.CAFileEnv, t.CAFile)
}

func (t *DatabaseTLSConfig) resolveCertFile() string {
	return resolveFileEnv(t.CertFileEnv, t.CertFile)
}

func (t *DatabaseTLSConfig) resolveKeyFile() string {
	return resolveFileEnv(t.KeyFileEnv, t.KeyFile)
}

// resolveFileEnv prefers the path held by the named environment variable.
func resolveFileEnv(envName, fallback string) string {
	if envName != "" {
		if path := os.Getenv(envName); path != "" {
			return path
		}
	}
	return fallback
}
