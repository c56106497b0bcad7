// Package filter defines the abstract filter tree shared by the REST and
// GraphQL front ends, and the parsers that produce it.
package filter

// Operator is a comparison operator.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNeq   Operator = "neq"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpLike  Operator = "like"
	OpILike Operator = "ilike"
	OpIn    Operator = "in"
	OpIs    Operator = "is"
	OpFTS   Operator = "fts"
	OpPLFTS Operator = "plfts"
	OpPHFTS Operator = "phfts"
	OpWFTS  Operator = "wfts"
	OpCs    Operator = "cs"
	OpCd    Operator = "cd"
	OpOv    Operator = "ov"
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpNeq: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpLike: {}, OpILike: {}, OpIn: {}, OpIs: {},
	OpFTS: {}, OpPLFTS: {}, OpPHFTS: {}, OpWFTS: {},
	OpCs: {}, OpCd: {}, OpOv: {},
}

// IsFullText reports whether op is one of the text search operators.
func (op Operator) IsFullText() bool {
	switch op {
	case OpFTS, OpPLFTS, OpPHFTS, OpWFTS:
		return true
	}
	return false
}

// IsOrdering reports whether op compares magnitudes.
func (op Operator) IsOrdering() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Node is one node of a filter tree.
type Node interface {
	isNode()
}

// Comparison tests one column against a literal.
type Comparison struct {
	// Path holds embed segments followed by the column name.
	Path     []string
	Cast     string
	Operator Operator
	Value    string
	Values   []string
	Language string
}

// And holds when every child holds.
type And struct {
	Children []Node
}

// Or holds when any child holds.
type Or struct {
	Children []Node
}

// Not negates its child.
type Not struct {
	Child Node
}

func (Comparison) isNode() {}
func (And) isNode()        {}
func (Or) isNode()         {}
func (Not) isNode()        {}

// Column is the last path segment.
func (c Comparison) Column() string {
	if len(c.Path) == 0 {
		return ""
	}
	return c.Path[len(c.Path)-1]
}

// EmbedPath is the path without the column.
func (c Comparison) EmbedPath() []string {
	if len(c.Path) <= 1 {
		return nil
	}
	return c.Path[:len(c.Path)-1]
}

// NewAnd builds a conjunction, collapsing a single child and dropping nils.
func NewAnd(children ...Node) Node {
	return group(children, func(c []Node) Node { return And{Children: c} })
}

// NewOr builds a disjunction, collapsing a single child and dropping nils.
func NewOr(children ...Node) Node {
	return group(children, func(c []Node) Node { return Or{Children: c} })
}

func group(children []Node, wrap func([]Node) Node) Node {
	kept := make([]Node, 0, len(children))
	for _, child := range children {
		if child != nil {
			kept = append(kept, child)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return wrap(kept)
	}
}

// Walk visits every comparison in the tree in order.
func Walk(n Node, fn func(Comparison)) {
	switch v := n.(type) {
	case Comparison:
		fn(v)
	case And:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	case Or:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	case Not:
		Walk(v.Child, fn)
	}
}

// Prefix returns a copy of the tree with prefix prepended to every
// comparison path, scoping it to an embedded resource.
func Prefix(n Node, prefix []string) Node {
	switch v := n.(type) {
	case Comparison:
		v.Path = append(append([]string(nil), prefix...), v.Path...)
		return v
	case And:
		out := make([]Node, len(v.Children))
		for i, c := range v.Children {
			out[i] = Prefix(c, prefix)
		}
		return And{Children: out}
	case Or:
		out := make([]Node, len(v.Children))
		for i, c := range v.Children {
			out[i] = Prefix(c, prefix)
		}
		return Or{Children: out}
	case Not:
		return Not{Child: Prefix(v.Child, prefix)}
	}
	return n
}
