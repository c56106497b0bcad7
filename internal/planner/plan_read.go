package planner

import (
	"pgrest/internal/apirequest"
	"pgrest/internal/resgraph"
)

// Node is one planned resource: the resolved node plus its typed predicate,
// final ordering and pagination.
type Node struct {
	Resource *resgraph.ResourceNode
	Where    Predicate
	Order    []resgraph.OrderKey
	Limit    *int
	Offset   *int
	Children []*Embed
}

// Embed links a planned child to its parent through the resolved relationship.
type Embed struct {
	Child *resgraph.Child
	Node  *Node
}

// ToMany reports whether the embed aggregates into a JSON array.
func (e *Embed) ToMany() bool {
	return !e.Child.Relationship.Cardinality.ToOne()
}

// ReadPlan is a planned read.
type ReadPlan struct {
	Root     *Node
	Count    apirequest.CountPreference
	ReadOnly bool
	Cost     PlanCost
}

// PlanRead plans a read over a resolved tree. The root limit is bounded by
// limits.MaxRows.
func PlanRead(root *resgraph.ResourceNode, prefs apirequest.Preferences, limits Limits) (*ReadPlan, error) {
	node, err := planNode(root, true)
	if err != nil {
		return nil, err
	}
	if node.Limit, err = applyMaxRows(node.Limit, limits); err != nil {
		return nil, err
	}
	return &ReadPlan{
		Root:     node,
		Count:    prefs.Count,
		ReadOnly: true,
		Cost:     EstimateCost(node, limits),
	}, nil
}

// planNode compiles n and its descendants. Roots and to-many embeds get the
// primary key appended to their ordering so pages are stable.
func planNode(n *resgraph.ResourceNode, ordered bool) (*Node, error) {
	where, err := compilePredicate(n.Table, n.Filter)
	if err != nil {
		return nil, err
	}
	out := &Node{
		Resource: n,
		Where:    where,
		Order:    n.Order,
		Limit:    n.Limit,
		Offset:   n.Offset,
	}
	if ordered {
		out.Order = withTiebreaker(n.Order, n.Table.PrimaryKey)
	}
	for _, c := range n.Children {
		child, err := planNode(c.Node, !c.Relationship.Cardinality.ToOne())
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, &Embed{Child: c, Node: child})
	}
	return out, nil
}

func withTiebreaker(order []resgraph.OrderKey, pk []string) []resgraph.OrderKey {
	if len(pk) == 0 {
		return order
	}
	seen := make(map[string]struct{}, len(order))
	for _, k := range order {
		seen[k.Column] = struct{}{}
	}
	out := append([]resgraph.OrderKey(nil), order...)
	for _, col := range pk {
		if _, ok := seen[col]; !ok {
			out = append(out, resgraph.OrderKey{Column: col})
		}
	}
	return out
}

// OutputNames lists the keys of each rendered row in select order: columns
// first, then embeds.
func (n *Node) OutputNames() []string {
	names := make([]string, 0, len(n.Resource.Columns)+len(n.Children))
	for _, c := range n.Resource.Columns {
		names = append(names, c.Output)
	}
	for _, e := range n.Children {
		names = append(names, e.Node.Resource.Name)
	}
	return names
}
