package dbexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"pgrest/internal/apierror"
)

// mapError classifies an execution failure. PostgreSQL errors keep their
// SQLSTATE as the error code.
func mapError(ctx context.Context, err error, anonymous bool) error {
	if err == nil {
		return nil
	}
	if _, ok := apierror.As(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "57014" {
			return apierror.StatementTimeout()
		}
		return apierror.Database(pgErr.Code, StatusForSQLState(pgErr.Code, anonymous),
			pgErr.Message, pgErr.Detail, pgErr.Hint)
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierror.StatementTimeout()
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apierror.ConnectionFailure(err.Error())
	}
	return err
}

// StatusForSQLState maps a SQLSTATE to an HTTP status.
func StatusForSQLState(code string, anonymous bool) int {
	switch code {
	case "42501":
		if anonymous {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case "42P01", "42883":
		return http.StatusNotFound
	case "25006":
		return http.StatusMethodNotAllowed
	case "57014":
		return http.StatusGatewayTimeout
	case "P0001":
		return http.StatusBadRequest
	}
	// RAISE with SQLSTATE 'PTnnn' picks the status directly.
	if strings.HasPrefix(code, "PT") && len(code) == 5 {
		if status, err := strconv.Atoi(code[2:]); err == nil && status >= 100 && status < 600 {
			return status
		}
	}
	if len(code) < 2 {
		return http.StatusInternalServerError
	}
	switch code[:2] {
	case "08":
		return http.StatusServiceUnavailable
	case "23", "40":
		return http.StatusConflict
	case "28":
		return http.StatusForbidden
	case "42":
		return http.StatusBadRequest
	case "53":
		return http.StatusServiceUnavailable
	case "54":
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
