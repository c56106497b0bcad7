package sqlbuilder

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"pgrest/internal/filter"
	"pgrest/internal/planner"
	"pgrest/internal/sqltype"
)

var tsQueryFunctions = map[filter.Operator]string{
	filter.OpFTS:   "to_tsquery",
	filter.OpPLFTS: "plainto_tsquery",
	filter.OpPHFTS: "phraseto_tsquery",
	filter.OpWFTS:  "websearch_to_tsquery",
}

var containmentOperators = map[filter.Operator]string{
	filter.OpCs: "@>",
	filter.OpCd: "<@",
	filter.OpOv: "&&",
}

// predicate renders p with columns qualified by alias. A nil predicate
// renders nil.
func predicate(alias string, p planner.Predicate) (sq.Sqlizer, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case planner.Compare:
		return compare(alias, v)
	case planner.And:
		parts, err := predicates(alias, v.Children)
		if err != nil {
			return nil, err
		}
		return sq.And(parts), nil
	case planner.Or:
		parts, err := predicates(alias, v.Children)
		if err != nil {
			return nil, err
		}
		return sq.Or(parts), nil
	case planner.Not:
		inner, err := predicate(alias, v.Child)
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT (?)", inner), nil
	}
	return nil, fmt.Errorf("sqlbuilder: unsupported predicate %T", p)
}

func predicates(alias string, children []planner.Predicate) ([]sq.Sqlizer, error) {
	out := make([]sq.Sqlizer, 0, len(children))
	for _, c := range children {
		s, err := predicate(alias, c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func compare(alias string, c planner.Compare) (sq.Sqlizer, error) {
	col := qcol(alias, c.Column)
	if c.Cast != "" {
		col += "::" + c.Cast
	}
	switch c.Operator {
	case filter.OpEq:
		return sq.Eq{col: c.Value}, nil
	case filter.OpNeq:
		return sq.NotEq{col: c.Value}, nil
	case filter.OpGt:
		return sq.Gt{col: c.Value}, nil
	case filter.OpGte:
		return sq.GtOrEq{col: c.Value}, nil
	case filter.OpLt:
		return sq.Lt{col: c.Value}, nil
	case filter.OpLte:
		return sq.LtOrEq{col: c.Value}, nil
	case filter.OpLike:
		return sq.Like{col: c.Value}, nil
	case filter.OpILike:
		return sq.ILike{col: c.Value}, nil
	case filter.OpIn:
		return sq.Eq{col: c.Values}, nil
	case filter.OpIs:
		switch c.Keyword {
		case "NULL", "TRUE", "FALSE", "UNKNOWN":
			return sq.Expr(col + " IS " + c.Keyword), nil
		}
		return nil, fmt.Errorf("sqlbuilder: invalid IS operand %q", c.Keyword)
	case filter.OpCs, filter.OpCd, filter.OpOv:
		return sq.Expr(col+" "+containmentOperators[c.Operator]+" ?", c.Value), nil
	}
	if fn, ok := tsQueryFunctions[c.Operator]; ok {
		return fullText(col, fn, c), nil
	}
	return nil, fmt.Errorf("sqlbuilder: unsupported operator %q", c.Operator)
}

// fullText matches a tsvector column directly and converts text columns
// with to_tsvector first.
func fullText(col, fn string, c planner.Compare) sq.Sqlizer {
	var args []interface{}
	target := col
	if c.Category == sqltype.CategoryText {
		if c.Language != "" {
			target = "to_tsvector(?::regconfig, " + col + ")"
			args = append(args, c.Language)
		} else {
			target = "to_tsvector(" + col + ")"
		}
	}
	query := fn + "(?)"
	if c.Language != "" {
		query = fn + "(?::regconfig, ?)"
		args = append(args, c.Language)
	}
	args = append(args, c.Value)
	return sq.Expr(target+" @@ "+query, args...)
}
