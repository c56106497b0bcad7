package resolver

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/graphql-go/graphql"

	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
)

// tableInfo is the GraphQL view of one table.
type tableInfo struct {
	table     *schemacache.Table
	typeName  string
	queryName string

	// fields lists GraphQL column field names in ordinal order.
	fields  []string
	columns map[string]*schemacache.Column
	links   map[string]*link
	// linkOrder keeps relationship fields in registration order.
	linkOrder []string

	object  *graphql.Object
	filter  *graphql.InputObject
	orderBy *graphql.InputObject
	insert  *graphql.InputObject
	patch   *graphql.InputObject
}

// link is a relationship field.
type link struct {
	rel    schemacache.Relationship
	target *tableInfo
	hint   string
}

func (l *link) toOne() bool {
	return l.rel.Cardinality.ToOne()
}

// fieldFor returns the GraphQL field name of a column.
func (t *tableInfo) fieldFor(column string) string {
	for _, f := range t.fields {
		if t.columns[f].Name == column {
			return f
		}
	}
	return column
}

func (r *Resolver) registerTables() {
	r.tables = make(map[schemacache.QualifiedName]*tableInfo)
	r.order = nil
	defaultSchema := r.cache.DefaultSchema()
	for _, table := range r.cache.Tables() {
		if !r.cache.Exposes(table.Schema) {
			continue
		}
		info := &tableInfo{
			table:    table,
			typeName: r.namer.RegisterType(table.Schema, table.Name, table.Schema == defaultSchema),
			columns:  make(map[string]*schemacache.Column, len(table.Columns)),
			links:    make(map[string]*link),
		}
		info.queryName = r.namer.RegisterQueryField(info.typeName)
		for i := range table.Columns {
			col := &table.Columns[i]
			field := r.namer.RegisterColumnField(info.typeName, col.Name)
			info.fields = append(info.fields, field)
			info.columns[field] = col
		}
		r.tables[table.QualifiedName()] = info
		r.order = append(r.order, info)
	}
}

// registerLinks adds a field per relationship. Relationships the embed
// resolver cannot pick out by their hint are left out.
func (r *Resolver) registerLinks() {
	for _, info := range r.order {
		rels := r.cache.Relationships(info.table.QualifiedName())
		toManyCount := make(map[schemacache.QualifiedName]int)
		for _, rel := range rels {
			if rel.Cardinality == schemacache.OneToMany {
				toManyCount[rel.Target]++
			}
		}
		for _, rel := range rels {
			target, ok := r.tables[rel.Target]
			if !ok {
				continue
			}
			found, err := r.cache.FindRelationship(info.table, target.table.Name, rel.Hint())
			if err != nil || found.Cardinality != rel.Cardinality || found.Target != rel.Target {
				r.logger.Debug("relationship not exposed in GraphQL",
					slog.String("table", info.table.QualifiedName().String()),
					slog.String("constraint", rel.Constraint),
				)
				continue
			}

			var base string
			switch rel.Cardinality {
			case schemacache.ManyToOne:
				base = r.namer.ManyToOneFieldName(rel.SourceColumns, rel.Target.Name)
			case schemacache.OneToMany:
				// The children of a self-referencing key take the FK prefix so the
				// field never repeats the table name along an embed path.
				base = r.namer.OneToManyFieldName(rel.Target.Name, rel.TargetColumns,
					toManyCount[rel.Target] == 1 && !rel.SelfReferencing())
			default:
				base = r.namer.ManyToManyFieldName(rel.Junction.Table.Name, rel.Source.Name, rel.Target.Name)
			}
			field := r.namer.RegisterRelationshipField(info.typeName, base, rel.Constraint, rel.Cardinality.ToOne())
			info.links[field] = &link{rel: rel, target: target, hint: rel.Hint()}
			info.linkOrder = append(info.linkOrder, field)
		}
	}
}

// objectType builds the output type lazily so relationship cycles resolve.
func (r *Resolver) objectType(info *tableInfo) *graphql.Object {
	if info.object != nil {
		return info.object
	}
	info.object = graphql.NewObject(graphql.ObjectConfig{
		Name:        info.typeName,
		Description: info.table.QualifiedName().String(),
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return r.buildFields(info)
		}),
	})
	return info.object
}

func (r *Resolver) buildFields(info *tableInfo) graphql.Fields {
	fields := graphql.Fields{}
	for _, name := range info.fields {
		col := info.columns[name]
		var fieldType graphql.Output = r.outputType(col)
		if !col.Nullable {
			fieldType = graphql.NewNonNull(fieldType)
		}
		fields[name] = &graphql.Field{
			Type:    fieldType,
			Resolve: columnResolver(r.outputType(col)),
		}
	}
	for _, name := range info.linkOrder {
		l := info.links[name]
		target := r.objectType(l.target)
		if l.toOne() {
			fields[name] = &graphql.Field{Type: target, Resolve: sourceValue}
			continue
		}
		fields[name] = &graphql.Field{
			Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(target))),
			Args:    r.listArgs(l.target),
			Resolve: sourceValue,
		}
	}
	return fields
}

// outputType maps a column to its GraphQL scalar.
func (r *Resolver) outputType(col *schemacache.Column) *graphql.Scalar {
	switch col.Category() {
	case sqltype.CategoryInteger:
		switch strings.ToLower(col.DataType) {
		case "bigint", "int8", "bigserial":
			return r.bigIntType
		}
		return graphql.Int
	case sqltype.CategoryFloat:
		return graphql.Float
	case sqltype.CategoryNumeric:
		return r.decimalType
	case sqltype.CategoryBoolean:
		return graphql.Boolean
	case sqltype.CategoryJSON, sqltype.CategoryArray, sqltype.CategoryRange:
		return r.jsonType
	default:
		return graphql.String
	}
}

// sourceValue reads the field from its parent row under the response key,
// so aliased selections of one field stay apart.
func sourceValue(p graphql.ResolveParams) (interface{}, error) {
	row, ok := p.Source.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return row[responseKey(p.Info)], nil
}

func responseKey(info graphql.ResolveInfo) string {
	if info.Path != nil {
		if key, ok := info.Path.Key.(string); ok {
			return key
		}
	}
	return info.FieldName
}

// columnResolver converts decoded json.Number values to what the scalar
// serializes.
func columnResolver(scalar *graphql.Scalar) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		v, _ := sourceValue(p)
		n, ok := v.(json.Number)
		if !ok {
			return v, nil
		}
		switch scalar {
		case graphql.Int:
			return n.Int64()
		case graphql.Float:
			return n.Float64()
		}
		return n, nil
	}
}

func (r *Resolver) orderDirectionEnum() *graphql.Enum {
	if r.orderDirection != nil {
		return r.orderDirection
	}
	values := graphql.EnumValueConfigMap{}
	for _, name := range []string{"ASC", "DESC", "ASC_NULLS_FIRST", "ASC_NULLS_LAST", "DESC_NULLS_FIRST", "DESC_NULLS_LAST"} {
		values[name] = &graphql.EnumValueConfig{Value: name}
	}
	r.orderDirection = graphql.NewEnum(graphql.EnumConfig{
		Name:   "OrderDirection",
		Values: values,
	})
	return r.orderDirection
}

// orderByInput has one optional direction per column. Each list entry of
// orderBy should set one column; entries setting several are applied in
// field name order.
func (r *Resolver) orderByInput(info *tableInfo) *graphql.InputObject {
	if info.orderBy != nil {
		return info.orderBy
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, name := range info.fields {
		fields[name] = &graphql.InputObjectFieldConfig{Type: r.orderDirectionEnum()}
	}
	info.orderBy = graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   info.typeName + "OrderBy",
		Fields: fields,
	})
	return info.orderBy
}

// filterInput mirrors the REST filter grammar: per-column operator objects
// combined with and, or and not.
func (r *Resolver) filterInput(info *tableInfo) *graphql.InputObject {
	if info.filter != nil {
		return info.filter
	}
	info.filter = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: info.typeName + "Filter",
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"and": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(info.filter))},
				"or":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(info.filter))},
				"not": &graphql.InputObjectFieldConfig{Type: info.filter},
			}
			for _, name := range info.fields {
				fields[name] = &graphql.InputObjectFieldConfig{Type: r.scalarFilter(r.outputType(info.columns[name]))}
			}
			return fields
		}),
	})
	return info.filter
}

// scalarFilter returns the operator object for one scalar. JSON values
// only support null checks.
func (r *Resolver) scalarFilter(scalar *graphql.Scalar) *graphql.InputObject {
	name := scalar.Name() + "Filter"
	if cached, ok := r.filterTypes[name]; ok {
		return cached
	}
	fields := graphql.InputObjectConfigFieldMap{
		"isNull": &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
	}
	if scalar != r.jsonType {
		fields["eq"] = &graphql.InputObjectFieldConfig{Type: scalar}
		fields["neq"] = &graphql.InputObjectFieldConfig{Type: scalar}
		fields["in"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(scalar))}
	}
	if scalar != r.jsonType && scalar != graphql.Boolean {
		for _, op := range []string{"gt", "gte", "lt", "lte"} {
			fields[op] = &graphql.InputObjectFieldConfig{Type: scalar}
		}
	}
	if scalar == graphql.String {
		fields["like"] = &graphql.InputObjectFieldConfig{Type: graphql.String, Description: "Pattern match; * and % are wildcards"}
		fields["ilike"] = &graphql.InputObjectFieldConfig{Type: graphql.String, Description: "Case-insensitive pattern match; * and % are wildcards"}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	r.filterTypes[name] = input
	return input
}

// insertInput has every column optional; the database enforces required
// columns and defaults.
func (r *Resolver) insertInput(info *tableInfo) *graphql.InputObject {
	if info.insert != nil {
		return info.insert
	}
	info.insert = graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   info.typeName + "InsertInput",
		Fields: r.columnInputFields(info),
	})
	return info.insert
}

func (r *Resolver) patchInput(info *tableInfo) *graphql.InputObject {
	if info.patch != nil {
		return info.patch
	}
	info.patch = graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   info.typeName + "Patch",
		Fields: r.columnInputFields(info),
	})
	return info.patch
}

func (r *Resolver) columnInputFields(info *tableInfo) graphql.InputObjectConfigFieldMap {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, name := range info.fields {
		fields[name] = &graphql.InputObjectFieldConfig{Type: r.outputType(info.columns[name])}
	}
	return fields
}
