package naming

import "strings"

// graphqlReservedTypeWords contains GraphQL keywords and built-in types
// that should not be used as type names.
var graphqlReservedTypeWords = map[string]bool{
	"query":        true,
	"mutation":     true,
	"subscription": true,
	"type":         true,
	"schema":       true,
	"scalar":       true,
	"enum":         true,
	"input":        true,
	"interface":    true,
	"union":        true,
	"fragment":     true,
	"directive":    true,
	"extend":       true,
	"implements":   true,
	"on":           true,

	"int":     true,
	"float":   true,
	"string":  true,
	"boolean": true,
	"id":      true,

	"true":  true,
	"false": true,
	"null":  true,

	// Scalars and enums the schema builder defines.
	"bigint":         true,
	"decimal":        true,
	"json":           true,
	"nonnegativeint": true,
	"orderdirection": true,
	"nullsorder":     true,
}

// generatedTypeSuffixes are appended to type names for the input types
// built per table.
var generatedTypeSuffixes = []string{"Filter", "OrderBy", "InsertInput", "Patch"}

// filterLogicFields are keys of every filter input object.
var filterLogicFields = map[string]bool{"and": true, "or": true, "not": true}

// isReservedTypeName checks if a type name is reserved.
func isReservedTypeName(name string) bool {
	lowerName := strings.ToLower(name)
	if strings.HasPrefix(lowerName, "__") {
		return true
	}
	if graphqlReservedTypeWords[lowerName] {
		return true
	}
	for _, suffix := range generatedTypeSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return true
		}
	}
	return false
}

// isReservedFieldName checks if a field name is reserved. Column fields
// share the filter input with the logic keys.
func isReservedFieldName(name string) bool {
	if strings.HasPrefix(name, "__") {
		return true
	}
	return filterLogicFields[name]
}
