// Package sqltype classifies PostgreSQL data types and coerces request literals
// into values that match a column's declared type.
package sqltype

import "strings"

// Category groups PostgreSQL types that share literal syntax and operator support.
type Category int

const (
	// CategoryText covers character types, enums and anything without a narrower category.
	CategoryText Category = iota
	// CategoryInteger covers smallint, integer and bigint.
	CategoryInteger
	// CategoryFloat covers real and double precision.
	CategoryFloat
	// CategoryNumeric covers arbitrary precision numeric/decimal.
	CategoryNumeric
	// CategoryBoolean covers boolean.
	CategoryBoolean
	// CategoryTemporal covers date, time, timestamp and interval types.
	CategoryTemporal
	// CategoryUUID covers uuid.
	CategoryUUID
	// CategoryJSON covers json and jsonb.
	CategoryJSON
	// CategoryArray covers array types.
	CategoryArray
	// CategoryRange covers range types.
	CategoryRange
	// CategoryTSVector covers tsvector.
	CategoryTSVector
	// CategoryBytea covers bytea.
	CategoryBytea
)

var categoryNames = map[Category]string{
	CategoryText:     "text",
	CategoryInteger:  "integer",
	CategoryFloat:    "float",
	CategoryNumeric:  "numeric",
	CategoryBoolean:  "boolean",
	CategoryTemporal: "temporal",
	CategoryUUID:     "uuid",
	CategoryJSON:     "json",
	CategoryArray:    "array",
	CategoryRange:    "range",
	CategoryTSVector: "tsvector",
	CategoryBytea:    "bytea",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Classify maps an information_schema data_type (or a format_type name) to a Category.
// Size and precision modifiers such as (10,2) are ignored.
func Classify(dataType string) Category {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if idx := strings.Index(t, "("); idx != -1 {
		t = strings.TrimSpace(t[:idx])
	}
	if strings.HasSuffix(t, "[]") || t == "array" {
		return CategoryArray
	}
	switch t {
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8",
		"smallserial", "serial", "bigserial", "oid":
		return CategoryInteger
	case "real", "double precision", "float4", "float8":
		return CategoryFloat
	case "numeric", "decimal", "money":
		return CategoryNumeric
	case "boolean", "bool":
		return CategoryBoolean
	case "date", "time", "timetz", "timestamp", "timestamptz", "interval",
		"time without time zone", "time with time zone",
		"timestamp without time zone", "timestamp with time zone":
		return CategoryTemporal
	case "uuid":
		return CategoryUUID
	case "json", "jsonb":
		return CategoryJSON
	case "int4range", "int8range", "numrange", "tsrange", "tstzrange", "daterange":
		return CategoryRange
	case "tsvector":
		return CategoryTSVector
	case "bytea":
		return CategoryBytea
	default:
		return CategoryText
	}
}

// IsNumeric reports whether values of the category are numbers.
func (c Category) IsNumeric() bool {
	return c == CategoryInteger || c == CategoryFloat || c == CategoryNumeric
}

// SupportsPattern reports whether LIKE/ILIKE apply to the category.
func (c Category) SupportsPattern() bool {
	return c == CategoryText
}

// SupportsFullText reports whether the full-text search operators apply.
func (c Category) SupportsFullText() bool {
	return c == CategoryTSVector || c == CategoryText
}

// SupportsContainment reports whether cs/cd apply.
func (c Category) SupportsContainment() bool {
	return c == CategoryArray || c == CategoryJSON || c == CategoryRange
}

// SupportsOverlap reports whether ov applies.
func (c Category) SupportsOverlap() bool {
	return c == CategoryArray || c == CategoryRange
}

// GraphQLType represents the category of GraphQL scalar type for a SQL column.
type GraphQLType int

const (
	// TypeString is the default type for text, dates, and unknown SQL types.
	TypeString GraphQLType = iota
	// TypeInt represents integer numeric types.
	TypeInt
	// TypeFloat represents floating-point and fixed-point numeric types.
	TypeFloat
	// TypeBoolean represents boolean types.
	TypeBoolean
	// TypeJSON represents JSON, array and range types.
	TypeJSON
)

// MapToGraphQL converts a PostgreSQL data type to its GraphQL type category.
func MapToGraphQL(dataType string) GraphQLType {
	switch Classify(dataType) {
	case CategoryInteger:
		return TypeInt
	case CategoryFloat, CategoryNumeric:
		return TypeFloat
	case CategoryBoolean:
		return TypeBoolean
	case CategoryJSON, CategoryArray:
		return TypeJSON
	default:
		return TypeString
	}
}

// String returns the GraphQL scalar type name for schema generation.
func (t GraphQLType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeBoolean:
		return "Boolean"
	case TypeJSON:
		return "JSON"
	default:
		return "String"
	}
}

// FilterTypeName returns the corresponding filter input type name.
func (t GraphQLType) FilterTypeName() string {
	switch t {
	case TypeInt:
		return "IntFilter"
	case TypeFloat:
		return "FloatFilter"
	case TypeBoolean:
		return "BooleanFilter"
	default:
		// JSON columns are not filterable from GraphQL; they share StringFilter for naming only.
		return "StringFilter"
	}
}
