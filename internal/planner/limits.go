package planner

import (
	"fmt"
	"strings"

	"pgrest/internal/apierror"
)

// MaxRowsMode selects what happens when a requested limit exceeds MaxRows.
type MaxRowsMode int

const (
	// MaxRowsClamp silently reduces the limit to MaxRows.
	MaxRowsClamp MaxRowsMode = iota
	// MaxRowsReject fails the request with LimitExceeded.
	MaxRowsReject
)

// ParseMaxRowsMode maps a configuration value to a mode.
func ParseMaxRowsMode(s string) (MaxRowsMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp":
		return MaxRowsClamp, nil
	case "reject":
		return MaxRowsReject, nil
	default:
		return MaxRowsClamp, fmt.Errorf("unknown max rows mode %q (expected clamp or reject)", s)
	}
}

func (m MaxRowsMode) String() string {
	if m == MaxRowsReject {
		return "reject"
	}
	return "clamp"
}

// Limits defines the row limits applied during planning.
type Limits struct {
	MaxRows     int
	MaxRowsMode MaxRowsMode
	// EmbedFallbackRows is the per-embed row estimate used for cost when an
	// embed has no limit.
	EmbedFallbackRows int
}

// DefaultEmbedFallbackRows is used by EstimateCost when Limits leaves it unset.
const DefaultEmbedFallbackRows = 100

// PlanCost captures the estimated size of a read.
type PlanCost struct {
	Depth      int
	Embeds     int
	Rows       int
	Statements int
}

// applyMaxRows returns the effective root limit. A missing limit becomes
// MaxRows; a larger one is clamped or rejected per mode.
func applyMaxRows(requested *int, limits Limits) (*int, error) {
	if limits.MaxRows <= 0 {
		return requested, nil
	}
	max := limits.MaxRows
	if requested == nil {
		return &max, nil
	}
	if *requested <= max {
		return requested, nil
	}
	if limits.MaxRowsMode == MaxRowsReject {
		return nil, apierror.LimitExceeded(*requested, max)
	}
	return &max, nil
}

// EstimateCost walks the planned tree. Rows multiply down to-many embeds;
// to-one embeds add at most one row per parent row.
func EstimateCost(root *Node, limits Limits) PlanCost {
	if root == nil {
		return PlanCost{}
	}
	fallback := limits.EmbedFallbackRows
	if fallback <= 0 {
		fallback = DefaultEmbedFallbackRows
	}
	rootRows := fallback
	if root.Limit != nil {
		rootRows = *root.Limit
	}
	cost := PlanCost{Statements: 1}
	cost.Rows = estimateRows(root, rootRows, fallback, 1, &cost)
	return cost
}

func estimateRows(n *Node, rows, fallback, depth int, cost *PlanCost) int {
	if depth > cost.Depth {
		cost.Depth = depth
	}
	total := rows
	for _, c := range n.Children {
		cost.Embeds++
		childRows := 1
		if !c.Child.Relationship.Cardinality.ToOne() {
			childRows = fallback
			if c.Node.Limit != nil {
				childRows = *c.Node.Limit
			}
		}
		total += rows * estimateRows(c.Node, childRows, fallback, depth+1, cost)
	}
	return total
}
