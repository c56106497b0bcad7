package sqlbuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pgrest/internal/apirequest"
	"pgrest/internal/planner"
	"pgrest/internal/resgraph"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqlutil"
)

// RenderRead renders a read plan as one statement, plus a companion count
// query for planned and estimated counts.
func RenderRead(p *planner.ReadPlan) (*Statement, error) {
	root := p.Root
	from := tableRef(root.Resource.Table, root.Resource.Alias)
	source, err := selectTree(root, from, true)
	if err != nil {
		return nil, err
	}

	stmt := &Statement{}
	total := sq.Sqlizer(nullTotal)
	switch p.Count {
	case apirequest.CountExact:
		count, err := countSelect(root, from)
		if err != nil {
			return nil, err
		}
		total = sq.Expr("(SELECT pg_catalog.count(*) FROM (?) AS "+q(countAlias)+")", count)
		stmt.CountStrategy = CountInline
	case apirequest.CountPlanned:
		count, err := countSelect(root, from)
		if err != nil {
			return nil, err
		}
		explain, err := finish(count.Prefix("EXPLAIN (FORMAT JSON)"))
		if err != nil {
			return nil, err
		}
		stmt.Count = &explain
		stmt.CountStrategy = CountExplain
	case apirequest.CountEstimated:
		stmt.Count = estimateQuery(root.Resource.Table)
		stmt.CountStrategy = CountEstimate
	}

	main, err := envelope([]cte{{name: sourceCTE, body: source}}, total)
	if err != nil {
		return nil, err
	}
	stmt.Main = main
	return stmt, nil
}

func estimateQuery(t *schemacache.Table) *Query {
	return &Query{
		SQL:  "SELECT reltuples::bigint FROM pg_catalog.pg_class WHERE oid = $1::regclass",
		Args: []interface{}{sqlutil.QuoteQualified(t.Schema, t.Name)},
	}
}

func tableRef(t *schemacache.Table, alias string) string {
	return qname(t.Schema, t.Name) + " AS " + q(alias)
}

// selectTree renders node n reading from the given FROM item. paginate
// applies the node's limit and offset.
func selectTree(n *planner.Node, from string, paginate bool) (sq.SelectBuilder, error) {
	alias := n.Resource.Alias
	b := sq.Select().From(from)
	for _, c := range n.Resource.Columns {
		b = b.Column(columnExpr(alias, c) + " AS " + q(c.Output))
	}
	for _, e := range n.Children {
		lateral := lateralAlias(e)
		b = b.Column(qcol(lateral, bodyColumn) + " AS " + q(e.Node.Resource.Name))
		join, err := embedJoin(alias, e)
		if err != nil {
			return b, err
		}
		b = b.JoinClause(join)
	}

	where, err := predicate(alias, n.Where)
	if err != nil {
		return b, err
	}
	if where != nil {
		b = b.Where(where)
	}
	b = b.OrderBy(orderTerms(alias, n.Order)...)
	if paginate {
		b = paginateClause(b, n.Limit, n.Offset)
	}
	return b, nil
}

// countSelect selects one row per matching root row. Only inner embeds
// take part since left embeds never remove rows.
func countSelect(n *planner.Node, from string) (sq.SelectBuilder, error) {
	alias := n.Resource.Alias
	b := sq.Select("1").From(from)
	for _, e := range n.Children {
		if e.Child.Join != resgraph.JoinInner {
			continue
		}
		join, err := embedJoin(alias, e)
		if err != nil {
			return b, err
		}
		b = b.JoinClause(join)
	}
	where, err := predicate(alias, n.Where)
	if err != nil {
		return b, err
	}
	if where != nil {
		b = b.Where(where)
	}
	return b, nil
}

func lateralAlias(e *planner.Embed) string {
	return "pgrst_" + e.Node.Resource.Alias
}

// embedJoin renders the lateral join that aggregates an embedded resource
// for each parent row.
func embedJoin(parentAlias string, e *planner.Embed) (sq.Sqlizer, error) {
	child := e.Node
	from, link := linkSource(parentAlias, e)
	inner, err := selectTree(child, from, e.ToMany())
	if err != nil {
		return nil, err
	}
	for _, cond := range link {
		inner = inner.Where(cond)
	}

	agg := fmt.Sprintf("row_to_json(%s.*)", q(rowAlias))
	if e.ToMany() {
		agg = fmt.Sprintf("coalesce(json_agg(%s), '[]')", q(rowAlias))
	}
	wrapped := sq.Select(agg+" AS "+q(bodyColumn)).FromSelect(inner, q(rowAlias))

	lateral := lateralAlias(e)
	kind, on := "LEFT JOIN LATERAL", "TRUE"
	if e.Child.Join == resgraph.JoinInner {
		kind = "INNER JOIN LATERAL"
		if e.ToMany() {
			on = "json_array_length(" + qcol(lateral, bodyColumn) + ") > 0"
		}
	}
	return sq.Expr(kind+" (?) AS "+q(lateral)+" ON "+on, wrapped), nil
}

// linkSource returns the FROM item of an embedded resource and the
// conditions tying its rows to the parent row.
func linkSource(parentAlias string, e *planner.Embed) (string, []string) {
	rel := e.Child.Relationship
	child := e.Node.Resource
	from := tableRef(child.Table, child.Alias)

	if rel.Junction == nil {
		link := make([]string, len(rel.SourceColumns))
		for i := range rel.SourceColumns {
			link[i] = qcol(child.Alias, rel.TargetColumns[i]) + " = " +
				qcol(parentAlias, rel.SourceColumns[i])
		}
		return from, link
	}

	j := rel.Junction
	jAlias := "pgrst_j_" + child.Alias
	on := make([]string, len(j.TargetColumns))
	for i := range j.TargetColumns {
		on[i] = qcol(jAlias, j.TargetColumns[i]) + " = " +
			qcol(child.Alias, rel.TargetColumns[i])
	}
	from += " JOIN " + qname(j.Table.Schema, j.Table.Name) + " AS " + q(jAlias) +
		" ON " + strings.Join(on, " AND ")

	link := make([]string, len(j.SourceColumns))
	for i := range j.SourceColumns {
		link[i] = qcol(jAlias, j.SourceColumns[i]) + " = " +
			qcol(parentAlias, rel.SourceColumns[i])
	}
	return from, link
}

func columnExpr(alias string, c resgraph.ColumnSelection) string {
	expr := qcol(alias, c.Column.Name)
	if c.Cast != "" {
		expr += "::" + c.Cast
	}
	return expr
}

func orderTerms(alias string, keys []resgraph.OrderKey) []string {
	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		term := qcol(alias, k.Column)
		if k.Descending {
			term += " DESC"
		}
		switch k.Nulls {
		case apirequest.NullsFirst:
			term += " NULLS FIRST"
		case apirequest.NullsLast:
			term += " NULLS LAST"
		}
		terms = append(terms, term)
	}
	return terms
}

func paginateClause(b sq.SelectBuilder, limit, offset *int) sq.SelectBuilder {
	if limit != nil {
		b = b.Suffix("LIMIT ?", int64(*limit))
	}
	if offset != nil && *offset > 0 {
		b = b.Suffix("OFFSET ?", int64(*offset))
	}
	return b
}
