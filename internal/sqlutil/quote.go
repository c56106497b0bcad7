// Package sqlutil provides SQL utility functions.
package sqlutil

import (
	"errors"
	"strings"
)

// ErrInvalidIdentifier is returned for identifiers PostgreSQL cannot represent.
var ErrInvalidIdentifier = errors.New("identifier contains a NUL character")

// QuoteIdentifier quotes a PostgreSQL identifier (table name, column name, alias)
// with double quotes and escapes any double quotes within the identifier.
// NUL bytes are dropped. Client-supplied aliases go through ValidateIdentifier
// when the select list is parsed, and catalog names cannot contain NUL.
func QuoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a schema-qualified name. An empty schema yields a bare identifier.
func QuoteQualified(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteColumn quotes a column reference qualified by a table alias.
func QuoteColumn(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// ValidateIdentifier rejects identifiers that cannot be quoted safely.
func ValidateIdentifier(name string) error {
	if strings.ContainsRune(name, 0) {
		return ErrInvalidIdentifier
	}
	return nil
}
