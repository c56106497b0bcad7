package schemarefresh

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"

	"pgrest/internal/schemacache"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type fingerprintDetails struct {
	Value      string
	Components map[string]string
}

type fingerprintComponent struct {
	name         string
	query        sq.SelectBuilder
	schemaColumn string
}

// Only metadata that changes the API surface is hashed; comments and
// statistics are left out.
var fingerprintComponents = []fingerprintComponent{
	{
		name: "relations",
		query: sq.Select("n.nspname", "c.relname", "c.relkind",
			"pg_catalog.pg_relation_is_updatable(c.oid::regclass, true)").
			From("pg_catalog.pg_class c").
			Join("pg_catalog.pg_namespace n ON n.oid = c.relnamespace").
			Where("c.relkind IN ('r', 'v', 'm', 'f', 'p')").
			OrderBy("n.nspname", "c.relname"),
		schemaColumn: "n.nspname",
	},
	{
		name: "columns",
		query: sq.Select("n.nspname", "c.relname", "a.attnum", "a.attname",
			"pg_catalog.format_type(a.atttypid, a.atttypmod)", "a.attnotnull", "a.atthasdef").
			From("pg_catalog.pg_attribute a").
			Join("pg_catalog.pg_class c ON c.oid = a.attrelid").
			Join("pg_catalog.pg_namespace n ON n.oid = c.relnamespace").
			Where("a.attnum > 0 AND NOT a.attisdropped AND c.relkind IN ('r', 'v', 'm', 'f', 'p')").
			OrderBy("n.nspname", "c.relname", "a.attnum"),
		schemaColumn: "n.nspname",
	},
	{
		name: "constraints",
		query: sq.Select("n.nspname", "c.relname", "con.conname", "con.contype",
			"con.conkey::text", "con.confrelid::regclass::text", "con.confkey::text").
			From("pg_catalog.pg_constraint con").
			Join("pg_catalog.pg_class c ON c.oid = con.conrelid").
			Join("pg_catalog.pg_namespace n ON n.oid = c.relnamespace").
			Where("con.contype IN ('p', 'u', 'f')").
			OrderBy("n.nspname", "c.relname", "con.conname"),
		schemaColumn: "n.nspname",
	},
	{
		name: "routines",
		query: sq.Select("n.nspname", "p.proname",
			"pg_catalog.pg_get_function_identity_arguments(p.oid)", "p.provolatile", "p.proretset",
			"pg_catalog.format_type(p.prorettype, NULL)").
			From("pg_catalog.pg_proc p").
			Join("pg_catalog.pg_namespace n ON n.oid = p.pronamespace").
			Where("p.prokind = 'f'").
			OrderBy("n.nspname", "p.proname", "p.oid"),
		schemaColumn: "n.nspname",
	},
}

func computeFingerprint(ctx context.Context, db schemacache.Queryer, schemas []string) (fingerprintDetails, error) {
	ctx, span := otel.Tracer("pgrest/schemarefresh").Start(ctx, "schemarefresh.fingerprint")
	defer span.End()

	details := fingerprintDetails{Components: make(map[string]string, len(fingerprintComponents))}
	for _, component := range fingerprintComponents {
		query, args, err := component.query.
			Where(sq.Eq{component.schemaColumn: schemas}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return details, fmt.Errorf("failed to render %s fingerprint query: %w", component.name, err)
		}
		hash, err := hashComponentQuery(ctx, db, query, args...)
		if err != nil {
			span.RecordError(err)
			return details, fmt.Errorf("failed to fingerprint %s: %w", component.name, err)
		}
		details.Components[component.name] = hash
	}
	details.Value = combineComponentHashes(details.Components)
	span.SetAttributes(attribute.String("schema.fingerprint", details.Value))
	return details, nil
}

func hashComponentQuery(ctx context.Context, db schemacache.Queryer, query string, args ...interface{}) (string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	values := make([]sql.NullString, len(columns))
	targets := make([]interface{}, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	hash := sha256.New()
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return "", err
		}
		// Length-prefixed cells keep delimiter characters from colliding.
		for _, value := range values {
			cell := ""
			if value.Valid {
				cell = value.String
			}
			_, _ = fmt.Fprintf(hash, "%d:%s|", len(cell), cell)
		}
		_, _ = hash.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func combineComponentHashes(componentHashes map[string]string) string {
	if len(componentHashes) == 0 {
		return ""
	}
	keys := sortedKeys(componentHashes)
	hash := sha256.New()
	for _, key := range keys {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", key, componentHashes[key])
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// changedFingerprintComponents compares over the union of keys so added and
// removed components are reported too.
func changedFingerprintComponents(previous, current map[string]string) []string {
	union := make(map[string]string, len(previous)+len(current))
	for key := range previous {
		union[key] = ""
	}
	for key := range current {
		union[key] = ""
	}
	var changed []string
	for _, key := range sortedKeys(union) {
		if previous[key] != current[key] {
			changed = append(changed, key)
		}
	}
	return changed
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
