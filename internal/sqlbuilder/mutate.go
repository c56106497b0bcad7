package sqlbuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pgrest/internal/apirequest"
	"pgrest/internal/planner"
	"pgrest/internal/resgraph"
)

var defaultValue = sq.Expr("DEFAULT")

// RenderMutate renders the mutation as a data-modifying CTE whose rows feed
// the returning select.
func RenderMutate(p *planner.MutatePlan) (*Statement, error) {
	mutation, err := mutationSQL(p)
	if err != nil {
		return nil, err
	}

	returning := p.Returning
	if p.Return != apirequest.ReturnRepresentation {
		returning = keysOnly(returning)
	}
	from := q(mutationCTE) + " AS " + q(returning.Resource.Alias)
	source, err := selectTree(returning, from, true)
	if err != nil {
		return nil, err
	}

	main, err := envelope([]cte{
		{name: mutationCTE, body: mutation},
		{name: sourceCTE, body: source},
	}, nullTotal)
	if err != nil {
		return nil, err
	}
	return &Statement{Main: main}, nil
}

// keysOnly narrows the returning select to the primary key, which is all a
// minimal or headers-only response needs. Tables without a key keep the
// full projection.
func keysOnly(n *planner.Node) *planner.Node {
	table := n.Resource.Table
	if len(table.PrimaryKey) == 0 {
		return n
	}
	res := *n.Resource
	res.Columns = make([]resgraph.ColumnSelection, 0, len(table.PrimaryKey))
	for _, name := range table.PrimaryKey {
		if col, ok := table.Column(name); ok {
			res.Columns = append(res.Columns, resgraph.ColumnSelection{Column: col, Output: col.Name})
		}
	}
	res.Children = nil
	return &planner.Node{Resource: &res, Where: n.Where, Order: n.Order}
}

func mutationSQL(p *planner.MutatePlan) (sq.Sqlizer, error) {
	table := qname(p.Table.Schema, p.Table.Name)
	alias := p.Returning.Resource.Alias

	switch p.Operation {
	case planner.OpInsert:
		return insertSQL(p, table)
	case planner.OpUpdate:
		b := sq.Update(table + " AS " + q(alias))
		for i, name := range p.Columns {
			b = b.Set(q(name), cellValue(p.Rows[0][i]))
		}
		where, err := predicate(alias, p.Where)
		if err != nil {
			return nil, err
		}
		if where != nil {
			b = b.Where(where)
		}
		return b.Suffix("RETURNING " + q(alias) + ".*"), nil
	case planner.OpDelete:
		b := sq.Delete(table + " AS " + q(alias))
		where, err := predicate(alias, p.Where)
		if err != nil {
			return nil, err
		}
		if where != nil {
			b = b.Where(where)
		}
		return b.Suffix("RETURNING " + q(alias) + ".*"), nil
	}
	return nil, fmt.Errorf("sqlbuilder: unsupported operation %s", p.Operation)
}

func insertSQL(p *planner.MutatePlan, table string) (sq.Sqlizer, error) {
	if len(p.Columns) == 0 {
		return sq.Expr("INSERT INTO " + table + " DEFAULT VALUES RETURNING *"), nil
	}
	cols := make([]string, len(p.Columns))
	for i, name := range p.Columns {
		cols[i] = q(name)
	}
	b := sq.Insert(table).Columns(cols...)
	for _, row := range p.Rows {
		values := make([]interface{}, len(row))
		for i, cell := range row {
			values[i] = cellValue(cell)
		}
		b = b.Values(values...)
	}
	if p.Upsert() {
		b = b.Suffix(onConflict(p))
	}
	return b.Suffix("RETURNING *"), nil
}

func onConflict(p *planner.MutatePlan) string {
	target := make([]string, len(p.ConflictColumns))
	for i, c := range p.ConflictColumns {
		target[i] = q(c)
	}
	clause := "ON CONFLICT (" + strings.Join(target, ", ") + ")"
	if p.Resolution == apirequest.ResolutionIgnoreDuplicates {
		return clause + " DO NOTHING"
	}
	set := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		set[i] = q(c) + " = EXCLUDED." + q(c)
	}
	return clause + " DO UPDATE SET " + strings.Join(set, ", ")
}

func cellValue(v planner.Value) interface{} {
	if v.Default {
		return defaultValue
	}
	return v.Value
}
