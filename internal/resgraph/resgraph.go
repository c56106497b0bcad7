// Package resgraph resolves a root resource and its select tree against the
// schema cache into an owned tree of embedded resources.
package resgraph

import (
	"strconv"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/filter"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
)

// DefaultMaxDepth bounds embedding when no limit is configured.
const DefaultMaxDepth = 5

// JoinKind selects how an embed is joined to its parent.
type JoinKind int

const (
	JoinLeft JoinKind = iota
	JoinInner
)

func (j JoinKind) String() string {
	if j == JoinInner {
		return "inner"
	}
	return "left"
}

// ColumnSelection is one output column.
type ColumnSelection struct {
	Column *schemacache.Column
	// Output is the JSON key; it differs from Column.Name when aliased.
	Output string
	// Cast is a validated type name or empty.
	Cast string
}

// OrderKey is a validated ordering term.
type OrderKey struct {
	Column     string
	Descending bool
	Nulls      apirequest.NullsOrder
}

// Child links an embedded resource to its parent.
type Child struct {
	Relationship schemacache.Relationship
	Node         *ResourceNode
	Join         JoinKind
}

// ResourceNode is one resource in the resolved tree. Parents own their children.
type ResourceNode struct {
	Table *schemacache.Table
	// Alias is the SQL alias, unique within a statement.
	Alias string
	// Name is the JSON key under which the node is embedded in its parent.
	Name     string
	Path     []string
	Columns  []ColumnSelection
	Children []*Child
	Filter   filter.Node
	Order    []OrderKey
	Limit    *int
	Offset   *int
}

// Child finds a direct child by its output name.
func (n *ResourceNode) Child(name string) (*Child, bool) {
	for _, c := range n.Children {
		if c.Node.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Walk visits the node and its descendants depth first.
func (n *ResourceNode) Walk(fn func(*ResourceNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Node.Walk(fn)
	}
}

// Input describes what to resolve.
type Input struct {
	Schema string
	Root   string
	Select []apirequest.SelectItem
	Filter filter.Node
	Order  []apirequest.OrderTerm
	Limit  *int
	Offset *int
	Embeds map[string]*apirequest.EmbedParams
}

// Options tunes resolution.
type Options struct {
	MaxDepth int
	// Alias overrides the SQL alias of the root node.
	Alias string
}

type resolver struct {
	cache    *schemacache.Cache
	maxDepth int
	aliases  map[string]int
}

// Resolve builds the resource tree for in.
func Resolve(cache *schemacache.Cache, in Input, opts Options) (*ResourceNode, error) {
	table, err := cache.LookupTable(in.Schema, in.Root)
	if err != nil {
		return nil, err
	}
	return ResolveTable(cache, table, in, opts)
}

// ResolveTable builds the resource tree rooted at an already resolved table.
func ResolveTable(cache *schemacache.Cache, table *schemacache.Table, in Input, opts Options) (*ResourceNode, error) {
	r := &resolver{cache: cache, maxDepth: opts.MaxDepth, aliases: make(map[string]int)}
	if r.maxDepth <= 0 {
		r.maxDepth = DefaultMaxDepth
	}
	alias := opts.Alias
	if alias == "" {
		alias = table.Name
	}

	root := &ResourceNode{Table: table, Alias: r.uniqueAlias(alias), Name: table.Name}
	visited := map[string]struct{}{table.Name: {}}
	if err := r.resolveSelect(root, in.Select, 0, visited); err != nil {
		return nil, err
	}

	order, err := resolveOrder(root, in.Order)
	if err != nil {
		return nil, err
	}
	root.Order = order
	root.Limit = in.Limit
	root.Offset = in.Offset

	for path, params := range in.Embeds {
		node, err := root.find(strings.Split(path, "."))
		if err != nil {
			return nil, err
		}
		if node.Order, err = resolveOrder(node, params.Order); err != nil {
			return nil, err
		}
		node.Limit = params.Limit
		node.Offset = params.Offset
	}

	if err := attachFilters(root, in.Filter); err != nil {
		return nil, err
	}
	return root, nil
}

func (r *resolver) uniqueAlias(base string) string {
	n := r.aliases[base]
	r.aliases[base] = n + 1
	if n == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(n)
}

func (r *resolver) resolveSelect(node *ResourceNode, items []apirequest.SelectItem, depth int, visited map[string]struct{}) error {
	if len(items) == 0 {
		items = []apirequest.SelectItem{{Kind: apirequest.SelectStar, Name: "*"}}
	}
	for _, item := range items {
		switch item.Kind {
		case apirequest.SelectStar:
			for i := range node.Table.Columns {
				col := &node.Table.Columns[i]
				node.Columns = append(node.Columns, ColumnSelection{Column: col, Output: col.Name})
			}
		case apirequest.SelectColumn:
			sel, err := resolveColumn(node.Table, item)
			if err != nil {
				return err
			}
			node.Columns = append(node.Columns, sel)
		case apirequest.SelectEmbed:
			if err := r.resolveEmbed(node, item, depth+1, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveColumn(table *schemacache.Table, item apirequest.SelectItem) (ColumnSelection, error) {
	col, ok := table.Column(item.Name)
	if !ok {
		return ColumnSelection{}, apierror.UnknownColumn(table.Name, item.Name)
	}
	sel := ColumnSelection{Column: col, Output: item.OutputName()}
	if item.Cast != "" {
		name, _, err := sqltype.ResolveCast(col.Category(), item.Cast)
		if err != nil {
			return ColumnSelection{}, apierror.InvalidCast(item.Name, item.Cast, err.Error())
		}
		sel.Cast = name
	}
	return sel, nil
}

func (r *resolver) resolveEmbed(parent *ResourceNode, item apirequest.SelectItem, depth int, visited map[string]struct{}) error {
	if depth > r.maxDepth {
		return apierror.MaxEmbedDepthExceeded(r.maxDepth)
	}
	name := item.OutputName()
	if _, seen := visited[name]; seen {
		return apierror.CircularEmbed(strings.Join(append(append([]string(nil), parent.Path...), name), "."))
	}

	rel, err := r.cache.FindRelationship(parent.Table, item.Name, item.Hint)
	if err != nil {
		return err
	}
	target, err := r.cache.LookupTable(rel.Target.Schema, rel.Target.Name)
	if err != nil {
		return err
	}

	child := &ResourceNode{
		Table: target,
		Alias: r.uniqueAlias(target.Name),
		Name:  name,
		Path:  append(append([]string(nil), parent.Path...), name),
	}
	join := JoinLeft
	if item.Inner {
		join = JoinInner
	}
	parent.Children = append(parent.Children, &Child{Relationship: rel, Node: child, Join: join})

	visited[name] = struct{}{}
	defer delete(visited, name)
	return r.resolveSelect(child, item.Children, depth, visited)
}

func (n *ResourceNode) find(path []string) (*ResourceNode, error) {
	node := n
	for i, seg := range path {
		c, ok := node.Child(seg)
		if !ok {
			return nil, apierror.UnknownRelationship(strings.Join(path[:i+1], "."))
		}
		node = c.Node
	}
	return node, nil
}

func resolveOrder(node *ResourceNode, terms []apirequest.OrderTerm) ([]OrderKey, error) {
	keys := make([]OrderKey, 0, len(terms))
	for _, term := range terms {
		if _, ok := node.Table.Column(term.Column); !ok {
			return nil, apierror.UnknownColumn(node.Table.Name, term.Column)
		}
		keys = append(keys, OrderKey{Column: term.Column, Descending: term.Descending, Nulls: term.Nulls})
	}
	return keys, nil
}
