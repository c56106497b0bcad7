package naming

import (
	"log/slog"
	"strings"
)

// Namer converts schema cache names to GraphQL names. It handles
// pluralization, reserved words, and collisions within one schema build.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision state so the namer can serve a new build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// ToGraphQLTypeName converts a table name to a GraphQL type name.
// Example: "order_items" -> "OrderItems"
func (n *Namer) ToGraphQLTypeName(tableName string) string {
	name := toPascalCase(tableName)
	if isReservedTypeName(name) {
		n.logger.Warn("GraphQL name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", name+"_"),
		)
		return name + "_"
	}
	return name
}

// ToGraphQLFieldName converts a column or table name to a GraphQL field name.
// Example: "unit_price" -> "unitPrice"
func (n *Namer) ToGraphQLFieldName(columnName string) string {
	return toCamelCase(columnName)
}

// ManyToOneFieldName names a to-one link after its FK column with the
// common suffixes stripped. Composite keys use the target table instead.
// Example: "buyer_id" -> "buyer"
func (n *Namer) ManyToOneFieldName(fkColumns []string, targetTable string) string {
	if len(fkColumns) != 1 {
		return n.Singularize(n.ToGraphQLFieldName(targetTable))
	}
	name := fkColumns[0]
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) && len(name) > len(suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.ToGraphQLFieldName(name)
}

// OneToManyFieldName names a to-many link after the referencing table.
// When the referencing table has several FKs to the same parent, the FK
// column prefixes the name.
// Example: isOnlyFK=false, fkColumn="buyer_id": "orders" -> "buyerOrders"
func (n *Namer) OneToManyFieldName(sourceTable string, fkColumns []string, isOnlyFK bool) string {
	tablePlural := n.Pluralize(n.ToGraphQLFieldName(sourceTable))
	if isOnlyFK || len(fkColumns) != 1 {
		return tablePlural
	}
	prefix := n.ManyToOneFieldName(fkColumns, sourceTable)
	if tablePlural == "" {
		return prefix
	}
	return prefix + strings.ToUpper(tablePlural[:1]) + tablePlural[1:]
}

// ManyToManyFieldName names a link through a junction table. A junction
// named only after the two tables yields the target name; any other
// junction name is kept so its meaning survives.
// Example: ("product_tags", "products", "tags") -> "tags"
// Example: ("featured_items", "products", "tags") -> "featuredItems"
func (n *Namer) ManyToManyFieldName(junctionTable, sourceTable, targetTable string) string {
	if n.isSimpleJunctionName(junctionTable, sourceTable, targetTable) {
		return n.Pluralize(n.ToGraphQLFieldName(targetTable))
	}
	return n.Pluralize(n.ToGraphQLFieldName(junctionTable))
}

func (n *Namer) isSimpleJunctionName(junctionTable, leftTable, rightTable string) bool {
	junctionTokens := splitTokens(junctionTable)
	if len(junctionTokens) == 0 {
		return false
	}

	allowed := make(map[string]struct{})
	n.addNameTokens(allowed, leftTable)
	n.addNameTokens(allowed, rightTable)

	for _, token := range junctionTokens {
		if _, ok := allowed[token]; !ok {
			return false
		}
	}
	return true
}

func (n *Namer) addNameTokens(set map[string]struct{}, name string) {
	for _, token := range splitTokens(name) {
		set[token] = struct{}{}
		set[n.Singularize(token)] = struct{}{}
		set[n.Pluralize(token)] = struct{}{}
	}
}

func splitTokens(name string) []string {
	tokens := strings.Split(strings.ToLower(name), "_")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// RegisterType registers a table and returns its GraphQL type name. Tables
// outside the default schema are prefixed with the schema name.
func (n *Namer) RegisterType(schema, tableName string, defaultSchema bool) string {
	source := tableName
	if !defaultSchema {
		source = schema + "_" + tableName
	}
	return n.resolver.RegisterType(n.ToGraphQLTypeName(source), schema+"."+tableName)
}

// RegisterColumnField registers a column field and returns the resolved name.
// Columns are registered first and keep their names.
func (n *Namer) RegisterColumnField(typeName, columnName string) string {
	fieldName := n.validateFieldAndSuffix(n.ToGraphQLFieldName(columnName))
	return n.resolver.RegisterField(typeName, fieldName, "column:"+columnName)
}

// RegisterRelationshipField registers a relationship field and returns the
// resolved name. A clash with a column gets a Ref (to-one) or Rel (to-many)
// suffix.
func (n *Namer) RegisterRelationshipField(typeName, fieldName, source string, toOne bool) string {
	fieldName = n.validateFieldAndSuffix(fieldName)
	if n.resolver.FieldExists(typeName, fieldName) {
		if toOne {
			fieldName += "Ref"
		} else {
			fieldName += "Rel"
		}
	}
	return n.resolver.RegisterField(typeName, fieldName, "relationship:"+source)
}

// RegisterQueryField registers the list query of a type.
// Example: "OrderItems" -> "orderItems"
func (n *Namer) RegisterQueryField(typeName string) string {
	fieldName := n.validateFieldAndSuffix(lowerFirst(typeName))
	return n.resolver.RegisterQuery(fieldName, typeName)
}

// RegisterMutationField registers a mutation named verb+typeName.
// Example: ("insert", "Products") -> "insertProducts"
func (n *Namer) RegisterMutationField(verb, typeName string) string {
	return n.resolver.RegisterMutation(verb+typeName, typeName)
}

func (n *Namer) validateFieldAndSuffix(name string) string {
	if isReservedFieldName(name) {
		safeName := name + "_"
		n.logger.Warn("GraphQL name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}

// toCamelCase converts snake_case to camelCase
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
