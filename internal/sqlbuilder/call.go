package sqlbuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pgrest/internal/apirequest"
	"pgrest/internal/planner"
)

// RenderCall renders a routine call. Table-returning routines go through
// the same select as reads; scalars are converted with to_json.
func RenderCall(p *planner.CallPlan) (*Statement, error) {
	call := callExpr(p)

	if p.Result != nil {
		body := sq.Expr("SELECT * FROM "+call.sql, call.args...)
		root := p.Result
		from := q(callCTE) + " AS " + q(root.Resource.Alias)
		source, err := selectTree(root, from, true)
		if err != nil {
			return nil, err
		}
		total := sq.Sqlizer(nullTotal)
		stmt := &Statement{}
		// Counts over a routine result are always exact; the planner cannot
		// estimate rows of a function call.
		if p.Count != apirequest.CountNone {
			count, err := countSelect(root, from)
			if err != nil {
				return nil, err
			}
			total = sq.Expr("(SELECT pg_catalog.count(*) FROM (?) AS "+q(countAlias)+")", count)
			stmt.CountStrategy = CountInline
		}
		main, err := envelope([]cte{
			{name: callCTE, body: body},
			{name: sourceCTE, body: source},
		}, total)
		if err != nil {
			return nil, err
		}
		stmt.Main = main
		return stmt, nil
	}

	fromCall := sq.Expr("SELECT "+call.sql+" AS "+q(scalarColumn), call.args...)
	value := qcol(callCTE, scalarColumn)
	var b sq.SelectBuilder
	switch {
	case p.Void:
		b = sq.Select("NULL::bigint AS total_result_set", "pg_catalog.count(*) AS page_total", "NULL::text AS "+q(bodyColumn))
	case p.SetReturning:
		b = sq.Select("NULL::bigint AS total_result_set", "pg_catalog.count(*) AS page_total",
			fmt.Sprintf("coalesce(json_agg(%s), '[]')::text AS %s", value, q(bodyColumn)))
	default:
		b = sq.Select("NULL::bigint AS total_result_set", "1::bigint AS page_total",
			fmt.Sprintf("to_json(%s)::text AS %s", value, q(bodyColumn)))
	}
	main, err := finish(withCTEs(b.From(q(callCTE)), []cte{{name: callCTE, body: fromCall}}))
	if err != nil {
		return nil, err
	}
	return &Statement{Main: main}, nil
}

type renderedCall struct {
	sql  string
	args []interface{}
}

// callExpr renders "schema"."fn"("arg" := ?::type, ...). Argument types come
// from the catalog.
func callExpr(p *planner.CallPlan) renderedCall {
	parts := make([]string, len(p.Args))
	args := make([]interface{}, len(p.Args))
	for i, a := range p.Args {
		parts[i] = q(a.Name) + " := ?::" + a.Type
		args[i] = a.Value
	}
	sql := qname(p.Routine.Schema, p.Routine.Name) + "(" + strings.Join(parts, ", ") + ")"
	return renderedCall{sql: sql, args: args}
}
