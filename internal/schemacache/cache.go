// Package schemacache holds an immutable snapshot of the database structure
// exposed through the API: tables, views, columns, keys, relationships and
// routines.
package schemacache

import (
	"sort"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/sqltype"
)

// QualifiedName identifies a relation or routine by schema and name.
type QualifiedName struct {
	Schema string
	Name   string
}

func (q QualifiedName) String() string {
	if q.Schema == "" {
		return q.Name
	}
	return q.Schema + "." + q.Name
}

// Column describes one table or view column.
type Column struct {
	Name            string
	DataType        string
	Nullable        bool
	HasDefault      bool
	OrdinalPosition int
	EnumValues      []string
	IsPrimaryKey    bool
}

// Category returns the type family of the column. Enum columns compare as text.
func (c Column) Category() sqltype.Category {
	if len(c.EnumValues) > 0 {
		return sqltype.CategoryText
	}
	return sqltype.Classify(c.DataType)
}

// Table describes a table or view.
type Table struct {
	Schema     string
	Name       string
	Columns    []Column
	PrimaryKey []string
	UniqueKeys [][]string
	IsView     bool
	Insertable bool
	Updatable  bool
	Deletable  bool

	columnIndex map[string]int
}

// QualifiedName returns the schema-qualified name of the table.
func (t *Table) QualifiedName() QualifiedName {
	return QualifiedName{Schema: t.Schema, Name: t.Name}
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	if t.columnIndex == nil {
		for i := range t.Columns {
			if t.Columns[i].Name == name {
				return &t.Columns[i], true
			}
		}
		return nil, false
	}
	idx, ok := t.columnIndex[name]
	if !ok {
		return nil, false
	}
	return &t.Columns[idx], true
}

// ColumnNames returns column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// RequiredColumns returns the columns an insert must supply: not nullable and
// without a default.
func (t *Table) RequiredColumns() []string {
	var required []string
	for _, col := range t.Columns {
		if !col.Nullable && !col.HasDefault {
			required = append(required, col.Name)
		}
	}
	return required
}

// Keys returns the primary key followed by the other unique keys.
func (t *Table) Keys() [][]string {
	keys := make([][]string, 0, len(t.UniqueKeys)+1)
	if len(t.PrimaryKey) > 0 {
		keys = append(keys, t.PrimaryKey)
	}
	for _, key := range t.UniqueKeys {
		if !sameColumns(key, t.PrimaryKey) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (t *Table) index() {
	t.columnIndex = make(map[string]int, len(t.Columns))
	pk := make(map[string]struct{}, len(t.PrimaryKey))
	for _, name := range t.PrimaryKey {
		pk[name] = struct{}{}
	}
	for i := range t.Columns {
		t.columnIndex[t.Columns[i].Name] = i
		if _, ok := pk[t.Columns[i].Name]; ok {
			t.Columns[i].IsPrimaryKey = true
		}
	}
}

// Volatility classifies a routine's side-effect contract.
type Volatility int

const (
	Volatile Volatility = iota
	Stable
	Immutable
)

func (v Volatility) String() string {
	switch v {
	case Immutable:
		return "immutable"
	case Stable:
		return "stable"
	default:
		return "volatile"
	}
}

// ParseVolatility maps pg_proc.provolatile codes.
func ParseVolatility(code string) Volatility {
	switch code {
	case "i":
		return Immutable
	case "s":
		return Stable
	default:
		return Volatile
	}
}

// Parameter is one named routine argument.
type Parameter struct {
	Name       string
	Type       string
	HasDefault bool
}

// Routine describes a callable function.
type Routine struct {
	Schema         string
	Name           string
	Parameters     []Parameter
	ReturnType     string
	IsSetReturning bool
	Volatility     Volatility
}

// QualifiedName returns the schema-qualified routine name.
func (r *Routine) QualifiedName() QualifiedName {
	return QualifiedName{Schema: r.Schema, Name: r.Name}
}

// Parameter looks up an argument by name.
func (r *Routine) Parameter(name string) (Parameter, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ReturnsScalar reports whether the routine yields a single non-composite value.
func (r *Routine) ReturnsScalar(c *Cache) bool {
	if r.ReturnType == "void" {
		return false
	}
	if _, ok := c.ReturnTable(r); ok {
		return false
	}
	return r.ReturnType != "record"
}

// Cache is an immutable schema snapshot. It is safe for concurrent readers.
type Cache struct {
	schemas       []string
	tables        map[QualifiedName]*Table
	routines      map[QualifiedName]*Routine
	relationships []Relationship
	bySource      map[QualifiedName][]int
}

// Build assembles a cache from introspected parts and derives relationships
// from the foreign keys. Foreign keys touching tables outside the snapshot are
// skipped.
func Build(schemas []string, tables []*Table, foreignKeys []ForeignKey, routines []*Routine) *Cache {
	c := &Cache{
		schemas:  append([]string(nil), schemas...),
		tables:   make(map[QualifiedName]*Table, len(tables)),
		routines: make(map[QualifiedName]*Routine, len(routines)),
		bySource: make(map[QualifiedName][]int),
	}
	for _, t := range tables {
		t.index()
		c.tables[t.QualifiedName()] = t
	}
	for _, r := range routines {
		c.routines[r.QualifiedName()] = r
	}
	c.relationships = deriveRelationships(c.tables, foreignKeys)
	for i, rel := range c.relationships {
		c.bySource[rel.Source] = append(c.bySource[rel.Source], i)
	}
	return c
}

// Schemas returns the exposed schemas in configured order.
func (c *Cache) Schemas() []string {
	return append([]string(nil), c.schemas...)
}

// DefaultSchema is the first exposed schema.
func (c *Cache) DefaultSchema() string {
	if len(c.schemas) == 0 {
		return "public"
	}
	return c.schemas[0]
}

// Exposes reports whether schema is one of the exposed schemas.
func (c *Cache) Exposes(schema string) bool {
	for _, s := range c.schemas {
		if s == schema {
			return true
		}
	}
	return false
}

// LookupTable finds a table or view.
func (c *Cache) LookupTable(schema, name string) (*Table, error) {
	if t, ok := c.tables[QualifiedName{Schema: schema, Name: name}]; ok {
		return t, nil
	}
	return nil, apierror.TableNotFound(schema, name)
}

// LookupRoutine finds a function.
func (c *Cache) LookupRoutine(schema, name string) (*Routine, error) {
	if r, ok := c.routines[QualifiedName{Schema: schema, Name: name}]; ok {
		return r, nil
	}
	return nil, apierror.RoutineNotFound(schema, name, nil)
}

// ReturnTable finds the table whose row type a routine returns, if any.
func (c *Cache) ReturnTable(r *Routine) (*Table, bool) {
	name := r.ReturnType
	schema := r.Schema
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		schema, name = name[:idx], name[idx+1:]
	}
	t, ok := c.tables[QualifiedName{Schema: strings.Trim(schema, `"`), Name: strings.Trim(name, `"`)}]
	return t, ok
}

// Tables returns all tables sorted by schema and name.
func (c *Cache) Tables() []*Table {
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Routines returns all routines sorted by schema and name.
func (c *Cache) Routines() []*Routine {
	out := make([]*Routine, 0, len(c.routines))
	for _, r := range c.routines {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Relationships returns the relationships whose source is the given table.
func (c *Cache) Relationships(from QualifiedName) []Relationship {
	idxs := c.bySource[from]
	out := make([]Relationship, len(idxs))
	for i, idx := range idxs {
		out[i] = c.relationships[idx]
	}
	return out
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
