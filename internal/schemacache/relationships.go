package schemacache

import (
	"slices"
	"sort"
	"strings"

	"pgrest/internal/apierror"
)

// Cardinality describes how many target rows relate to one source row.
type Cardinality int

const (
	ManyToOne Cardinality = iota
	OneToMany
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "many_to_one"
	}
}

// ToOne reports whether the relationship yields at most one target row.
func (c Cardinality) ToOne() bool {
	return c == ManyToOne
}

// ForeignKey is a raw foreign key constraint as introspected.
type ForeignKey struct {
	Constraint        string
	Table             QualifiedName
	Columns           []string
	Referenced        QualifiedName
	ReferencedColumns []string
}

// Junction describes the link table of a many-to-many relationship.
type Junction struct {
	Table            QualifiedName
	SourceConstraint string
	TargetConstraint string
	// SourceColumns are the junction columns referencing the source table.
	SourceColumns []string
	// TargetColumns are the junction columns referencing the target table.
	TargetColumns []string
}

// Relationship is a directed, FK-derived link between two tables.
type Relationship struct {
	Constraint    string
	Source        QualifiedName
	SourceColumns []string
	Target        QualifiedName
	TargetColumns []string
	Cardinality   Cardinality
	Junction      *Junction
}

// SelfReferencing reports whether a foreign key links a table to itself.
func (r Relationship) SelfReferencing() bool {
	return r.Junction == nil && r.Source == r.Target
}

// matchesHint reports whether hint names the constraint, one of the columns
// on either side, or the junction table. Both directions of a
// self-referencing key share the constraint and columns, so there a column
// hint only matches the source side: the referencing column selects the
// parent, the referenced column selects the children.
func (r Relationship) matchesHint(hint string) bool {
	if hint == r.Constraint {
		return true
	}
	if slices.Contains(r.SourceColumns, hint) {
		return true
	}
	if !r.SelfReferencing() && slices.Contains(r.TargetColumns, hint) {
		return true
	}
	if r.Junction != nil {
		if hint == r.Junction.Table.Name || hint == r.Junction.SourceConstraint || hint == r.Junction.TargetConstraint {
			return true
		}
		for _, col := range r.Junction.SourceColumns {
			if col == hint {
				return true
			}
		}
		for _, col := range r.Junction.TargetColumns {
			if col == hint {
				return true
			}
		}
	}
	return false
}

// Hint returns an embed hint that selects exactly this relationship among
// those between the same pair of tables.
func (r Relationship) Hint() string {
	if r.Junction != nil {
		return r.Junction.Table.Name
	}
	if r.SelfReferencing() {
		for _, col := range r.SourceColumns {
			if !slices.Contains(r.TargetColumns, col) {
				return col
			}
		}
	}
	return r.Constraint
}

func deriveRelationships(tables map[QualifiedName]*Table, fks []ForeignKey) []Relationship {
	var rels []Relationship
	byTable := make(map[QualifiedName][]ForeignKey)
	for _, fk := range fks {
		src, ok := tables[fk.Table]
		if !ok || src.IsView {
			continue
		}
		if _, ok := tables[fk.Referenced]; !ok {
			continue
		}
		byTable[fk.Table] = append(byTable[fk.Table], fk)
		rels = append(rels,
			Relationship{
				Constraint:    fk.Constraint,
				Source:        fk.Table,
				SourceColumns: fk.Columns,
				Target:        fk.Referenced,
				TargetColumns: fk.ReferencedColumns,
				Cardinality:   ManyToOne,
			},
			Relationship{
				Constraint:    fk.Constraint,
				Source:        fk.Referenced,
				SourceColumns: fk.ReferencedColumns,
				Target:        fk.Table,
				TargetColumns: fk.Columns,
				Cardinality:   OneToMany,
			},
		)
	}

	junctionNames := make([]QualifiedName, 0, len(byTable))
	for name := range byTable {
		junctionNames = append(junctionNames, name)
	}
	sort.Slice(junctionNames, func(i, j int) bool { return junctionNames[i].String() < junctionNames[j].String() })

	for _, name := range junctionNames {
		keys := byTable[name]
		if len(keys) < 2 {
			continue
		}
		pk := make(map[string]struct{})
		for _, col := range tables[name].PrimaryKey {
			pk[col] = struct{}{}
		}
		var linking []ForeignKey
		for _, fk := range keys {
			if coveredBy(fk.Columns, pk) {
				linking = append(linking, fk)
			}
		}
		for i := range linking {
			for j := range linking {
				if i == j {
					continue
				}
				a, b := linking[i], linking[j]
				rels = append(rels, Relationship{
					Constraint:    name.Name,
					Source:        a.Referenced,
					SourceColumns: a.ReferencedColumns,
					Target:        b.Referenced,
					TargetColumns: b.ReferencedColumns,
					Cardinality:   ManyToMany,
					Junction: &Junction{
						Table:            name,
						SourceConstraint: a.Constraint,
						TargetConstraint: b.Constraint,
						SourceColumns:    a.Columns,
						TargetColumns:    b.Columns,
					},
				})
			}
		}
	}
	return rels
}

func coveredBy(cols []string, set map[string]struct{}) bool {
	if len(cols) == 0 || len(set) == 0 {
		return false
	}
	for _, col := range cols {
		if _, ok := set[col]; !ok {
			return false
		}
	}
	return true
}

// FindRelationship resolves an embed name from a table. The name is a target
// table (same schema first, then any exposed schema), or when no such table
// exists, a foreign key constraint or column on the source side. When several
// relationships match, hint must narrow them to exactly one.
func (c *Cache) FindRelationship(from *Table, to, hint string) (Relationship, error) {
	source := from.QualifiedName()
	candidates := c.candidatesByTarget(source, to)
	if len(candidates) == 0 {
		for _, rel := range c.Relationships(source) {
			if rel.Constraint == to || (rel.Cardinality == ManyToOne && len(rel.SourceColumns) == 1 && rel.SourceColumns[0] == to) {
				candidates = append(candidates, rel)
			}
		}
	}
	if hint != "" {
		var narrowed []Relationship
		for _, rel := range candidates {
			if rel.matchesHint(hint) {
				narrowed = append(narrowed, rel)
			}
		}
		candidates = narrowed
	}
	switch len(candidates) {
	case 0:
		return Relationship{}, apierror.NoRelationship(source.String(), to, hint)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, rel := range candidates {
			names[i] = rel.Hint()
		}
		return Relationship{}, apierror.AmbiguousRelationship(source.String(), to, names)
	}
}

func (c *Cache) candidatesByTarget(source QualifiedName, to string) []Relationship {
	rels := c.Relationships(source)
	var out []Relationship
	for _, rel := range rels {
		if rel.Target.Name == to && rel.Target.Schema == source.Schema {
			out = append(out, rel)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, rel := range rels {
		if rel.Target.Name == to && c.Exposes(rel.Target.Schema) {
			out = append(out, rel)
		}
	}
	return out
}

// String renders the relationship for logs and error details.
func (r Relationship) String() string {
	return r.Source.String() + "(" + strings.Join(r.SourceColumns, ",") + ") -> " +
		r.Target.String() + "(" + strings.Join(r.TargetColumns, ",") + ") [" + r.Cardinality.String() + " via " + r.Constraint + "]"
}
