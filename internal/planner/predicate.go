package planner

import (
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/filter"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
)

// Predicate is a typed filter ready for rendering.
type Predicate interface {
	isPredicate()
}

// Compare tests one column. Value and Values hold driver values already
// coerced to the column (or cast) category.
type Compare struct {
	Column   string
	Cast     string
	Category sqltype.Category
	Operator filter.Operator
	Value    interface{}
	Values   []interface{}
	// Keyword is the upper-cased operand of IS (NULL, TRUE, FALSE, UNKNOWN).
	Keyword  string
	Language string
}

// And holds when all children hold.
type And struct {
	Children []Predicate
}

// Or holds when any child holds.
type Or struct {
	Children []Predicate
}

// Not negates its child.
type Not struct {
	Child Predicate
}

func (Compare) isPredicate() {}
func (And) isPredicate()     {}
func (Or) isPredicate()      {}
func (Not) isPredicate()     {}

// compilePredicate type-checks a filter tree whose paths are bare columns of
// table and coerces every literal.
func compilePredicate(table *schemacache.Table, n filter.Node) (Predicate, error) {
	switch v := n.(type) {
	case nil:
		return nil, nil
	case filter.Comparison:
		return compileComparison(table, v)
	case filter.And:
		children, err := compileAll(table, v.Children)
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil
	case filter.Or:
		children, err := compileAll(table, v.Children)
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	case filter.Not:
		child, err := compilePredicate(table, v.Child)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	return nil, apierror.FilterSyntax("unsupported filter node %T", n)
}

func compileAll(table *schemacache.Table, nodes []filter.Node) ([]Predicate, error) {
	out := make([]Predicate, 0, len(nodes))
	for _, n := range nodes {
		p, err := compilePredicate(table, n)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func compileComparison(table *schemacache.Table, c filter.Comparison) (Predicate, error) {
	name := c.Column()
	col, ok := table.Column(name)
	if !ok {
		return nil, apierror.UnknownColumn(table.Name, name)
	}
	category := col.Category()
	if c.Cast != "" {
		_, to, err := sqltype.ResolveCast(category, c.Cast)
		if err != nil {
			return nil, apierror.InvalidCast(name, c.Cast, err.Error())
		}
		category = to
	}
	if err := checkOperator(name, category, c); err != nil {
		return nil, err
	}

	out := Compare{Column: name, Cast: c.Cast, Category: category, Operator: c.Operator, Language: c.Language}
	switch {
	case c.Operator == filter.OpIs:
		out.Keyword = strings.ToUpper(c.Value)
	case c.Operator == filter.OpIn:
		out.Values = make([]interface{}, 0, len(c.Values))
		for _, raw := range c.Values {
			v, err := sqltype.CoerceLiteral(category, raw)
			if err != nil {
				return nil, apierror.FilterType(name, string(c.Operator), err.Error())
			}
			out.Values = append(out.Values, v)
		}
	case c.Operator.IsFullText(), c.Operator == filter.OpLike, c.Operator == filter.OpILike:
		out.Value = c.Value
	case c.Operator == filter.OpCs, c.Operator == filter.OpCd, c.Operator == filter.OpOv:
		// Containment operands use the array, range or json literal syntax and
		// are parsed by the server against the column type.
		if category == sqltype.CategoryJSON {
			v, err := sqltype.CoerceLiteral(category, c.Value)
			if err != nil {
				return nil, apierror.FilterType(name, string(c.Operator), err.Error())
			}
			out.Value = v
		} else {
			out.Value = c.Value
		}
	default:
		v, err := sqltype.CoerceLiteral(category, c.Value)
		if err != nil {
			return nil, apierror.FilterType(name, string(c.Operator), err.Error())
		}
		out.Value = v
	}
	return out, nil
}

// checkOperator enforces the operator/type table.
func checkOperator(column string, category sqltype.Category, c filter.Comparison) error {
	op := c.Operator
	reject := func(reason string) error {
		return apierror.FilterType(column, string(op), reason)
	}
	switch {
	case op == filter.OpLike || op == filter.OpILike:
		if !category.SupportsPattern() {
			return reject("pattern matching requires a text column, cast with ::text")
		}
	case op.IsFullText():
		if !category.SupportsFullText() {
			return reject("full text search requires a tsvector or text column")
		}
	case op == filter.OpCs || op == filter.OpCd:
		if !category.SupportsContainment() {
			return reject("containment requires an array, json or range column")
		}
	case op == filter.OpOv:
		if !category.SupportsOverlap() {
			return reject("overlap requires an array or range column")
		}
	case op == filter.OpIs:
		if c.Value != "null" && category != sqltype.CategoryBoolean {
			return reject("is." + c.Value + " requires a boolean column")
		}
	case op.IsOrdering():
		if category == sqltype.CategoryJSON || category == sqltype.CategoryTSVector {
			return reject(category.String() + " values cannot be ordered")
		}
	}
	return nil
}
