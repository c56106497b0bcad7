package apierror

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TableNotFound reports an unknown table or view.
func TableNotFound(schema, name string) error {
	err := New(KindSchema, CodeTableNotFound, http.StatusNotFound,
		"Could not find the table '%s.%s' in the schema cache", schema, name)
	return WithHint(err, "Check the table name, the exposed schemas, or reload the schema cache.")
}

// RoutineNotFound reports an unknown function or one whose signature does not match.
func RoutineNotFound(schema, name string, args []string) error {
	err := New(KindSchema, CodeRoutineNotFound, http.StatusNotFound,
		"Could not find the function '%s.%s' in the schema cache", schema, name)
	if len(args) > 0 {
		err = WithDetail(err, fmt.Sprintf("Searched for the function with parameters: %s", strings.Join(args, ", ")))
	}
	return err
}

// UnknownColumn reports a column that does not exist on a table.
func UnknownColumn(table, column string) error {
	return New(KindSchema, CodeUnknownColumn, http.StatusBadRequest,
		"Could not find the '%s' column of '%s' in the schema cache", column, table)
}

// SchemaNotExposed reports a profile header naming a schema that is not served.
func SchemaNotExposed(schema string, exposed []string) error {
	err := New(KindSchema, CodeSchemaNotExposed, http.StatusNotAcceptable,
		"The schema must be one of the following: %s", strings.Join(exposed, ", "))
	return WithDetail(err, fmt.Sprintf("Requested schema: %s", schema))
}

// NoRelationship reports that two resources are not connected by any foreign key.
func NoRelationship(from, to, hint string) error {
	err := New(KindSchema, CodeNoRelationship, http.StatusBadRequest,
		"Could not find a relationship between '%s' and '%s' in the schema cache", from, to)
	if hint != "" {
		err = WithDetail(err, fmt.Sprintf("Searched for a foreign key relationship using the hint '%s'", hint))
	}
	return err
}

// AmbiguousRelationship reports multiple relationships between two resources.
// Every candidate constraint is listed in the details.
func AmbiguousRelationship(from, to string, candidates []string) error {
	err := New(KindSchema, CodeAmbiguousRelation, http.StatusMultipleChoices,
		"Could not embed because more than one relationship was found for '%s' and '%s'", from, to)
	err = WithDetail(err, "Candidate relationships: "+strings.Join(candidates, ", "))
	suggestions := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		suggestions = append(suggestions, fmt.Sprintf("'%s!%s'", to, candidate))
	}
	return WithHint(err, "Try changing '"+to+"' to one of the following: "+strings.Join(suggestions, ", "))
}

// FilterSyntax reports a malformed query string parameter.
func FilterSyntax(format string, args ...interface{}) error {
	return New(KindFilter, CodeFilterSyntax, http.StatusBadRequest, format, args...)
}

// FilterType reports a literal that does not fit the column's declared type,
// or an operator the column type does not support.
func FilterType(column, operator, reason string) error {
	err := New(KindFilter, CodeFilterType, http.StatusBadRequest,
		"Invalid value for operator '%s' on column '%s'", operator, column)
	return WithDetail(err, reason)
}

// InvalidCast reports a column cast outside the compatibility table.
func InvalidCast(column, target, reason string) error {
	err := New(KindFilter, CodeInvalidCast, http.StatusBadRequest,
		"Cannot cast column '%s' to '%s'", column, target)
	return WithDetail(err, reason)
}

// InvalidRange reports a bad limit or offset.
func InvalidRange(format string, args ...interface{}) error {
	return New(KindFilter, CodeInvalidRange, http.StatusBadRequest, format, args...)
}

// InvalidPreference reports an unrecognised Prefer token under handling=strict.
func InvalidPreference(tokens []string) error {
	err := New(KindFilter, CodeInvalidPreference, http.StatusBadRequest, "Invalid preferences given with handling=strict")
	return WithDetail(err, "Invalid preferences: "+strings.Join(tokens, ", "))
}

// LimitExceeded reports a requested page larger than the configured maximum.
func LimitExceeded(requested, max int) error {
	err := New(KindValidation, CodeInvalidRange, http.StatusBadRequest,
		"Requested limit %d exceeds the maximum of %d rows", requested, max)
	return WithHint(err, fmt.Sprintf("Use limit=%d or paginate with offset.", max))
}

// MaxEmbedDepthExceeded reports a select tree nested deeper than allowed.
func MaxEmbedDepthExceeded(max int) error {
	return New(KindResolution, CodeMaxEmbedDepth, http.StatusBadRequest,
		"Embedding exceeds the maximum depth of %d", max)
}

// CircularEmbed reports an alias that appears twice on one embed path.
func CircularEmbed(alias string) error {
	return New(KindResolution, CodeCircularEmbed, http.StatusBadRequest,
		"Circular embedding detected at '%s'", alias)
}

// UnknownRelationship reports a filter, order or limit that targets a resource
// that is not embedded in the select.
func UnknownRelationship(path string) error {
	err := New(KindResolution, CodeEmbedNotSelected, http.StatusBadRequest,
		"'%s' is not an embedded resource in this request", path)
	return WithHint(err, "Add the resource to the select parameter to filter, order or paginate it.")
}

// NotInsertable reports a target that does not accept inserts.
func NotInsertable(table string) error {
	return New(KindValidation, CodeNotInsertable, http.StatusMethodNotAllowed, "Cannot insert into '%s'", table)
}

// NotUpdatable reports a target that does not accept updates.
func NotUpdatable(table string) error {
	return New(KindValidation, CodeNotUpdatable, http.StatusMethodNotAllowed, "Cannot update '%s'", table)
}

// NotDeletable reports a target that does not accept deletes.
func NotDeletable(table string) error {
	return New(KindValidation, CodeNotDeletable, http.StatusMethodNotAllowed, "Cannot delete from '%s'", table)
}

// MissingRequiredColumns reports non-nullable columns without defaults absent from a payload.
func MissingRequiredColumns(table string, columns []string) error {
	err := New(KindValidation, CodeMissingColumns, http.StatusBadRequest,
		"Missing required columns for '%s': %s", table, strings.Join(columns, ", "))
	return WithHint(err, "Provide the columns or send Prefer: missing=default.")
}

// InconsistentPayload reports payload rows with differing key sets.
func InconsistentPayload(detail string) error {
	err := New(KindValidation, CodeInconsistentColumn, http.StatusBadRequest, "All object keys must match")
	return WithDetail(err, detail)
}

// NoUpsertTarget reports an upsert whose payload covers no unique constraint.
func NoUpsertTarget(table string, keys []string) error {
	err := New(KindValidation, CodeNoUpsertTarget, http.StatusBadRequest,
		"Upsert on '%s' requires the payload to include the columns of a unique constraint", table)
	if len(keys) > 0 {
		err = WithDetail(err, "Unique constraints: "+strings.Join(keys, "; "))
	}
	return err
}

// InvalidBody reports an unparseable or unsupported request payload.
func InvalidBody(format string, args ...interface{}) error {
	return New(KindValidation, CodeInvalidBody, http.StatusBadRequest, format, args...)
}

// InvalidRequest reports a request the core cannot serve.
func InvalidRequest(status int, format string, args ...interface{}) error {
	return New(KindTransport, CodeInvalidRequest, status, format, args...)
}

// NotAcceptable reports an Accept header that no representation satisfies.
func NotAcceptable(mediaType string) error {
	return New(KindTransport, CodeNotAcceptable, http.StatusNotAcceptable,
		"None of these media types are available: %s", mediaType)
}

// SingularViolation reports a singular-object request that did not match one row.
func SingularViolation(rows int64) error {
	err := New(KindValidation, CodeSingularViolation, http.StatusNotAcceptable,
		"JSON object requested, multiple (or no) rows returned")
	return WithDetail(err, fmt.Sprintf("The result contains %d rows", rows))
}

// PoolTimeout reports a connection that could not be acquired in time.
func PoolTimeout(wait time.Duration) error {
	err := New(KindExecution, CodePoolTimeout, http.StatusGatewayTimeout,
		"Timed out acquiring connection from connection pool")
	return WithDetail(err, fmt.Sprintf("Waited %s", wait))
}

// StatementTimeout reports a statement cancelled by a deadline.
func StatementTimeout() error {
	return New(KindExecution, "57014", http.StatusGatewayTimeout, "canceling statement due to statement timeout")
}

// ConnectionFailure reports a database that cannot be reached.
func ConnectionFailure(reason string) error {
	err := New(KindExecution, CodeConnection, http.StatusServiceUnavailable, "Database client error. Retrying the connection.")
	return WithDetail(err, reason)
}

// SchemaCacheNotReady reports a request that arrived before the first snapshot.
func SchemaCacheNotReady() error {
	return New(KindExecution, CodeSchemaCacheNotReady, http.StatusServiceUnavailable,
		"Could not query the database for the schema cache. Retrying.")
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) error {
	return New(KindTransport, CodeJWT, http.StatusUnauthorized, "%s", message)
}

// Database builds an error from a PostgreSQL error report.
func Database(sqlState string, status int, message, detail, hint string) error {
	err := New(KindExecution, sqlState, status, "%s", message)
	err = WithDetail(err, detail)
	return WithHint(err, hint)
}

// RoleNotAllowed reports a role claim outside the configured allowlist.
func RoleNotAllowed(role string) error {
	err := New(KindTransport, CodeJWT, http.StatusForbidden, "role %q is not allowed", role)
	return WithHint(err, "Add the role to auth.allowed_roles or issue a token for an allowed role.")
}
