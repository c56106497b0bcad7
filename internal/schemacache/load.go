package schemacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Queryer is the subset of *sql.DB used for introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Catalog queries. Each carries a single %s placeholder for the schema predicate.
const (
	tablesQuery = `SELECT n.nspname, c.relname, c.relkind IN ('v', 'm') AS is_view,
  (pg_catalog.pg_relation_is_updatable(c.oid::regclass, true) & 8) = 8 AS insertable,
  (pg_catalog.pg_relation_is_updatable(c.oid::regclass, true) & 4) = 4 AS updatable,
  (pg_catalog.pg_relation_is_updatable(c.oid::regclass, true) & 16) = 16 AS deletable
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p') AND %s
ORDER BY n.nspname, c.relname`

	columnsQuery = `SELECT n.nspname, c.relname, a.attname, a.attnum,
  pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
  NOT a.attnotnull AS nullable,
  (a.atthasdef OR a.attidentity <> '' OR a.attgenerated <> '') AS has_default,
  COALESCE((SELECT json_agg(e.enumlabel ORDER BY e.enumsortorder)
    FROM pg_catalog.pg_enum e WHERE e.enumtypid = a.atttypid), '[]')::text AS enum_values
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE a.attnum > 0 AND NOT a.attisdropped AND c.relkind IN ('r', 'v', 'm', 'f', 'p') AND %s
ORDER BY n.nspname, c.relname, a.attnum`

	keysQuery = `SELECT n.nspname, c.relname, i.indisprimary,
  (SELECT json_agg(a.attname ORDER BY k.ord)
    FROM unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
    JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum)::text AS columns
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class c ON c.oid = i.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE i.indisunique AND i.indpred IS NULL AND i.indexprs IS NULL AND %s
ORDER BY n.nspname, c.relname, NOT i.indisprimary, i.indexrelid`

	foreignKeysQuery = `SELECT con.conname, ns.nspname, cls.relname, fns.nspname, fcls.relname,
  (SELECT json_agg(a.attname ORDER BY k.ord)
    FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
    JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum)::text AS columns,
  (SELECT json_agg(a.attname ORDER BY k.ord)
    FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
    JOIN pg_catalog.pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum)::text AS referenced_columns
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class cls ON cls.oid = con.conrelid
JOIN pg_catalog.pg_namespace ns ON ns.oid = cls.relnamespace
JOIN pg_catalog.pg_class fcls ON fcls.oid = con.confrelid
JOIN pg_catalog.pg_namespace fns ON fns.oid = fcls.relnamespace
WHERE con.contype = 'f' AND %s
ORDER BY ns.nspname, cls.relname, con.conname`

	routinesQuery = `SELECT n.nspname, p.proname, p.provolatile, p.proretset,
  pg_catalog.format_type(p.prorettype, NULL) AS return_type,
  p.pronargdefaults,
  COALESCE((SELECT json_agg(json_build_object(
      'name', COALESCE(p.proargnames[s.i], ''),
      'type', pg_catalog.format_type(p.proargtypes[s.i - 1], NULL)) ORDER BY s.i)
    FROM generate_series(1, p.pronargs) AS s(i)), '[]')::text AS parameters
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.prokind = 'f' AND %s
ORDER BY n.nspname, p.proname, p.oid`
)

// Load introspects the exposed schemas and builds a snapshot. The catalog
// queries run concurrently.
func Load(ctx context.Context, db Queryer, schemas []string) (*Cache, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no schemas to introspect")
	}
	ctx, span := startSpan(ctx, "schemacache.load",
		attribute.StringSlice("db.schemas", schemas),
	)
	defer span.End()

	var (
		tables   []*Table
		columns  map[QualifiedName][]Column
		keys     map[QualifiedName]tableKeys
		fks      []ForeignKey
		routines []*Routine
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() (err error) {
		tables, err = loadTables(gctx, db, schemas)
		return err
	})
	g.Go(func() (err error) {
		columns, err = loadColumns(gctx, db, schemas)
		return err
	})
	g.Go(func() (err error) {
		keys, err = loadKeys(gctx, db, schemas)
		return err
	})
	g.Go(func() (err error) {
		fks, err = loadForeignKeys(gctx, db, schemas)
		return err
	})
	g.Go(func() (err error) {
		routines, err = loadRoutines(gctx, db, schemas)
		return err
	})
	if err := g.Wait(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	for _, t := range tables {
		name := t.QualifiedName()
		t.Columns = columns[name]
		k := keys[name]
		t.PrimaryKey = k.primary
		t.UniqueKeys = k.unique
	}

	cache := Build(schemas, tables, fks, routines)
	span.SetAttributes(
		attribute.Int("schema.tables", len(tables)),
		attribute.Int("schema.relationships", len(cache.relationships)),
		attribute.Int("schema.routines", len(routines)),
	)
	return cache, nil
}

// schemaPredicate renders "column IN ($1, ...)" for the exposed schemas.
func schemaPredicate(query, column string, schemas []string) (string, []interface{}, error) {
	pred, args, err := sq.Eq{column: schemas}.ToSql()
	if err != nil {
		return "", nil, err
	}
	sqlText, err := sq.Dollar.ReplacePlaceholders(fmt.Sprintf(query, pred))
	if err != nil {
		return "", nil, err
	}
	return sqlText, args, nil
}

func queryCatalog(ctx context.Context, db Queryer, name, query, column string, schemas []string) (*sql.Rows, trace.Span, error) {
	ctx, span := startSpan(ctx, "schemacache."+name)
	sqlText, args, err := schemaPredicate(query, column, schemas)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		err = fmt.Errorf("failed to query %s: %w", name, err)
		recordSpanError(span, err)
		span.End()
		return nil, nil, err
	}
	return rows, span, nil
}

func loadTables(ctx context.Context, db Queryer, schemas []string) ([]*Table, error) {
	rows, span, err := queryCatalog(ctx, db, "tables", tablesQuery, "n.nspname", schemas)
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		t := &Table{}
		if err := rows.Scan(&t.Schema, &t.Name, &t.IsView, &t.Insertable, &t.Updatable, &t.Deletable); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

func loadColumns(ctx context.Context, db Queryer, schemas []string) (map[QualifiedName][]Column, error) {
	rows, span, err := queryCatalog(ctx, db, "columns", columnsQuery, "n.nspname", schemas)
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer rows.Close()

	out := make(map[QualifiedName][]Column)
	for rows.Next() {
		var (
			name      QualifiedName
			col       Column
			enumsJSON string
		)
		if err := rows.Scan(&name.Schema, &name.Name, &col.Name, &col.OrdinalPosition,
			&col.DataType, &col.Nullable, &col.HasDefault, &enumsJSON); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		if err := decodeList(enumsJSON, &col.EnumValues); err != nil {
			return nil, fmt.Errorf("column %s.%s enum values: %w", name, col.Name, err)
		}
		out[name] = append(out[name], col)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return out, nil
}

type tableKeys struct {
	primary []string
	unique  [][]string
}

func loadKeys(ctx context.Context, db Queryer, schemas []string) (map[QualifiedName]tableKeys, error) {
	rows, span, err := queryCatalog(ctx, db, "keys", keysQuery, "n.nspname", schemas)
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer rows.Close()

	out := make(map[QualifiedName]tableKeys)
	for rows.Next() {
		var (
			name     QualifiedName
			primary  bool
			colsJSON string
			cols     []string
		)
		if err := rows.Scan(&name.Schema, &name.Name, &primary, &colsJSON); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if err := decodeList(colsJSON, &cols); err != nil {
			return nil, fmt.Errorf("key columns of %s: %w", name, err)
		}
		k := out[name]
		if primary {
			k.primary = cols
		}
		k.unique = append(k.unique, cols)
		out[name] = k
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return out, nil
}

func loadForeignKeys(ctx context.Context, db Queryer, schemas []string) ([]ForeignKey, error) {
	rows, span, err := queryCatalog(ctx, db, "foreign_keys", foreignKeysQuery, "ns.nspname", schemas)
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			fk                 ForeignKey
			colsJSON, refsJSON string
		)
		if err := rows.Scan(&fk.Constraint, &fk.Table.Schema, &fk.Table.Name,
			&fk.Referenced.Schema, &fk.Referenced.Name, &colsJSON, &refsJSON); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if err := decodeList(colsJSON, &fk.Columns); err != nil {
			return nil, fmt.Errorf("foreign key %s: %w", fk.Constraint, err)
		}
		if err := decodeList(refsJSON, &fk.ReferencedColumns); err != nil {
			return nil, fmt.Errorf("foreign key %s: %w", fk.Constraint, err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return fks, nil
}

func loadRoutines(ctx context.Context, db Queryer, schemas []string) ([]*Routine, error) {
	rows, span, err := queryCatalog(ctx, db, "routines", routinesQuery, "n.nspname", schemas)
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer rows.Close()

	seen := make(map[QualifiedName]struct{})
	var routines []*Routine
	for rows.Next() {
		var (
			r           Routine
			volatility  string
			numDefaults int
			paramsJSON  string
		)
		if err := rows.Scan(&r.Schema, &r.Name, &volatility, &r.IsSetReturning,
			&r.ReturnType, &numDefaults, &paramsJSON); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan routine: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &r.Parameters); err != nil {
			return nil, fmt.Errorf("routine %s.%s parameters: %w", r.Schema, r.Name, err)
		}
		// Defaults apply to the trailing parameters.
		for i := len(r.Parameters) - numDefaults; i < len(r.Parameters); i++ {
			if i >= 0 {
				r.Parameters[i].HasDefault = true
			}
		}
		r.Volatility = ParseVolatility(volatility)
		// Overloads are not addressable by name; the first definition wins.
		if _, dup := seen[r.QualifiedName()]; dup {
			continue
		}
		seen[r.QualifiedName()] = struct{}{}
		routines = append(routines, &r)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return routines, nil
}

func decodeList(raw string, dst *[]string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("pgrest/schemacache")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
