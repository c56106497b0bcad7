// Package sqlbuilder renders plans into parameterized PostgreSQL statements.
//
// Every statement returns a single row (total_result_set, page_total, body)
// where body is the JSON text of the response rows. Embedded resources are
// lateral sub-selects aggregated into JSON, so a read of any depth is one
// statement.
package sqlbuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pgrest/internal/planner"
	"pgrest/internal/sqlutil"
)

const (
	sourceCTE    = "pgrst_source"
	mutationCTE  = "pgrst_mutation"
	callCTE      = "pgrst_call"
	rowAlias     = "pgrst_t"
	countAlias   = "pgrst_count"
	bodyColumn   = "body"
	scalarColumn = "pgrst_scalar"
)

// Query is SQL text with its positional arguments.
type Query struct {
	SQL  string
	Args []interface{}
}

// CountStrategy tells the executor where the total row count comes from.
type CountStrategy int

const (
	// CountNone leaves the total unknown.
	CountNone CountStrategy = iota
	// CountInline reads total_result_set from the main statement.
	CountInline
	// CountExplain runs Count as EXPLAIN (FORMAT JSON) and reads the plan rows.
	CountExplain
	// CountEstimate runs Count against pg_class and reads reltuples.
	CountEstimate
)

func (s CountStrategy) String() string {
	switch s {
	case CountInline:
		return "exact"
	case CountExplain:
		return "planned"
	case CountEstimate:
		return "estimated"
	default:
		return "none"
	}
}

// Statement is a rendered plan.
type Statement struct {
	Main          Query
	Count         *Query
	CountStrategy CountStrategy
}

// Render dispatches on the plan type.
func Render(plan interface{}) (*Statement, error) {
	switch p := plan.(type) {
	case *planner.ReadPlan:
		return RenderRead(p)
	case *planner.MutatePlan:
		return RenderMutate(p)
	case *planner.CallPlan:
		return RenderCall(p)
	default:
		return nil, fmt.Errorf("sqlbuilder: unsupported plan type %T", plan)
	}
}

type cte struct {
	name string
	body sq.Sqlizer
}

// envelope wraps the source CTE into the shared result row. total is an
// expression for total_result_set.
func envelope(ctes []cte, total sq.Sqlizer) (Query, error) {
	b := sq.Select().
		Column(sq.Expr("? AS total_result_set", total)).
		Column("pg_catalog.count(*) AS page_total").
		Column(fmt.Sprintf("coalesce(json_agg(%s), '[]')::text AS %s", q(rowAlias), q(bodyColumn))).
		From(fmt.Sprintf("(SELECT * FROM %s) AS %s", q(sourceCTE), q(rowAlias)))
	return finish(withCTEs(b, ctes))
}

func withCTEs(b sq.SelectBuilder, ctes []cte) sq.SelectBuilder {
	if len(ctes) == 0 {
		return b
	}
	sql := "WITH "
	args := make([]interface{}, 0, len(ctes))
	for i, c := range ctes {
		if i > 0 {
			sql += ", "
		}
		sql += q(c.name) + " AS (?)"
		args = append(args, c.body)
	}
	return b.Prefix(sql, args...)
}

func finish(b sq.SelectBuilder) (Query, error) {
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: sql, Args: args}, nil
}

// nullTotal stands in for total_result_set when no inline count is needed.
var nullTotal = sq.Expr("NULL::bigint")

// Quoted identifiers are spliced into squirrel fragments, where a bare ? is
// a placeholder. ?? renders as a literal ? once placeholders are numbered.
func q(name string) string {
	return escapePlaceholders(sqlutil.QuoteIdentifier(name))
}

func qcol(alias, column string) string {
	return escapePlaceholders(sqlutil.QuoteColumn(alias, column))
}

func qname(schema, name string) string {
	return escapePlaceholders(sqlutil.QuoteQualified(schema, name))
}

func escapePlaceholders(sql string) string {
	return strings.ReplaceAll(sql, "?", "??")
}
