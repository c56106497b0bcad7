package resgraph

import (
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/filter"
	"pgrest/internal/sqltype"
)

// attachFilters splits the top-level conjunction and attaches each conjunct
// to the node its column paths point at, rewriting paths to bare columns.
func attachFilters(root *ResourceNode, f filter.Node) error {
	if f == nil {
		return nil
	}
	conjuncts := []filter.Node{f}
	if and, ok := f.(filter.And); ok {
		conjuncts = and.Children
	}
	for _, conj := range conjuncts {
		var target *ResourceNode
		rewritten, err := rewrite(conj, func(c filter.Comparison) (filter.Comparison, error) {
			node, resolved, err := resolveComparison(root, c)
			if err != nil {
				return c, err
			}
			if target == nil {
				target = node
			} else if target != node {
				return c, apierror.FilterSyntax("A logic group cannot mix columns of '%s' and '%s'",
					displayPath(target), displayPath(node))
			}
			return resolved, nil
		})
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		target.Filter = filter.NewAnd(target.Filter, rewritten)
	}
	return nil
}

func displayPath(n *ResourceNode) string {
	if len(n.Path) == 0 {
		return n.Table.Name
	}
	return strings.Join(n.Path, ".")
}

// resolveComparison finds the node a comparison targets. A trailing segment
// after a column name is read as a cast (price.text).
func resolveComparison(root *ResourceNode, c filter.Comparison) (*ResourceNode, filter.Comparison, error) {
	node := root
	path := c.Path
	column := path[len(path)-1]
	cast := c.Cast
	for i := 0; i < len(path)-1; i++ {
		seg := path[i]
		if child, ok := node.Child(seg); ok {
			node = child.Node
			continue
		}
		if _, isColumn := node.Table.Column(seg); isColumn && i == len(path)-2 {
			if cast != "" {
				return nil, c, apierror.FilterSyntax("Column '%s' has two casts", seg)
			}
			column, cast = seg, path[len(path)-1]
			break
		}
		return nil, c, apierror.UnknownRelationship(strings.Join(path[:i+1], "."))
	}

	col, ok := node.Table.Column(column)
	if !ok {
		return nil, c, apierror.UnknownColumn(node.Table.Name, column)
	}
	out := c
	out.Path = []string{column}
	out.Cast = ""
	if cast != "" {
		name, _, err := sqltype.ResolveCast(col.Category(), cast)
		if err != nil {
			return nil, c, apierror.InvalidCast(column, cast, err.Error())
		}
		out.Cast = name
	}
	return node, out, nil
}

func rewrite(n filter.Node, fn func(filter.Comparison) (filter.Comparison, error)) (filter.Node, error) {
	switch v := n.(type) {
	case filter.Comparison:
		return fn(v)
	case filter.And:
		children, err := rewriteAll(v.Children, fn)
		if err != nil {
			return nil, err
		}
		return filter.And{Children: children}, nil
	case filter.Or:
		children, err := rewriteAll(v.Children, fn)
		if err != nil {
			return nil, err
		}
		return filter.Or{Children: children}, nil
	case filter.Not:
		child, err := rewrite(v.Child, fn)
		if err != nil {
			return nil, err
		}
		return filter.Not{Child: child}, nil
	}
	return n, nil
}

func rewriteAll(nodes []filter.Node, fn func(filter.Comparison) (filter.Comparison, error)) ([]filter.Node, error) {
	out := make([]filter.Node, len(nodes))
	for i, n := range nodes {
		r, err := rewrite(n, fn)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
