package sqltype

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CoerceLiteral converts a textual request literal into a driver value for a column
// of the given category. It never casts across categories: "abc" against an integer
// column is an error, not a string comparison.
func CoerceLiteral(c Category, raw string) (interface{}, error) {
	switch c {
	case CategoryInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid integer", raw)
		}
		return v, nil
	case CategoryFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid number", raw)
		}
		return v, nil
	case CategoryNumeric:
		trimmed := strings.TrimSpace(raw)
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return nil, fmt.Errorf("%q is not a valid number", raw)
		}
		// Kept as text so the database parses it with full decimal precision.
		return trimmed, nil
	case CategoryBoolean:
		v, ok := parseBool(raw)
		if !ok {
			return nil, fmt.Errorf("%q is not a valid boolean", raw)
		}
		return v, nil
	case CategoryUUID:
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid uuid", raw)
		}
		return id.String(), nil
	case CategoryJSON:
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("%q is not valid json", raw)
		}
		return raw, nil
	default:
		return raw, nil
	}
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "yes", "y", "on", "1":
		return true, true
	case "false", "f", "no", "n", "off", "0":
		return false, true
	default:
		return false, false
	}
}

// CoerceJSON converts a decoded JSON payload value (decoded with UseNumber) into a
// driver value for a column of the given category.
func CoerceJSON(c Category, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if c == CategoryJSON {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
	if c == CategoryArray {
		items, ok := v.([]interface{})
		if !ok {
			if s, isString := v.(string); isString {
				return s, nil
			}
			return nil, fmt.Errorf("expected an array, got %T", v)
		}
		return arrayLiteral(items)
	}
	switch typed := v.(type) {
	case json.Number:
		return CoerceLiteral(c, typed.String())
	case string:
		return CoerceLiteral(c, typed)
	case bool:
		if c == CategoryBoolean {
			return typed, nil
		}
		if c == CategoryText {
			return strconv.FormatBool(typed), nil
		}
		return nil, fmt.Errorf("unexpected boolean for %s column", c)
	case float64:
		return CoerceLiteral(c, strconv.FormatFloat(typed, 'f', -1, 64))
	case map[string]interface{}, []interface{}:
		if c != CategoryText && c != CategoryRange {
			return nil, fmt.Errorf("unexpected %T for %s column", v, c)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// arrayLiteral renders a PostgreSQL array literal, quoting every element.
func arrayLiteral(items []interface{}) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		var text string
		switch typed := item.(type) {
		case nil:
			b.WriteString("NULL")
			continue
		case string:
			text = typed
		case json.Number:
			text = typed.String()
		case bool:
			text = strconv.FormatBool(typed)
		case float64:
			text = strconv.FormatFloat(typed, 'f', -1, 64)
		default:
			encoded, err := json.Marshal(typed)
			if err != nil {
				return "", err
			}
			text = string(encoded)
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String(), nil
}

// castTargets lists the type names accepted in column::type casts with their category.
// Only these names reach the SQL text, so the list doubles as an allowlist.
var castTargets = map[string]Category{
	"text":             CategoryText,
	"varchar":          CategoryText,
	"char":             CategoryText,
	"smallint":         CategoryInteger,
	"integer":          CategoryInteger,
	"int":              CategoryInteger,
	"int4":             CategoryInteger,
	"bigint":           CategoryInteger,
	"int8":             CategoryInteger,
	"real":             CategoryFloat,
	"float4":           CategoryFloat,
	"float8":           CategoryFloat,
	"double precision": CategoryFloat,
	"numeric":          CategoryNumeric,
	"decimal":          CategoryNumeric,
	"boolean":          CategoryBoolean,
	"bool":             CategoryBoolean,
	"date":             CategoryTemporal,
	"time":             CategoryTemporal,
	"timestamp":        CategoryTemporal,
	"timestamptz":      CategoryTemporal,
	"interval":         CategoryTemporal,
	"uuid":             CategoryUUID,
	"json":             CategoryJSON,
	"jsonb":            CategoryJSON,
}

// CastTargets returns the accepted cast type names in sorted order.
func CastTargets() []string {
	names := make([]string, 0, len(castTargets))
	for name := range castTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsCastTarget reports whether name is an accepted cast type.
func IsCastTarget(name string) bool {
	_, ok := castTargets[normalizeCast(name)]
	return ok
}

// ResolveCast validates a cast from a column category to the named type and returns
// the normalized type name and its category.
func ResolveCast(from Category, target string) (string, Category, error) {
	name := normalizeCast(target)
	to, ok := castTargets[name]
	if !ok {
		return "", CategoryText, fmt.Errorf("unsupported cast type %q", target)
	}
	if !castAllowed(from, to) {
		return "", CategoryText, fmt.Errorf("cannot cast %s to %s", from, name)
	}
	return name, to, nil
}

func castAllowed(from, to Category) bool {
	switch {
	case from == to:
		return true
	case to == CategoryText, from == CategoryText:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return true
	case from == CategoryBoolean && to == CategoryInteger:
		return true
	case from == CategoryInteger && to == CategoryBoolean:
		return true
	default:
		return false
	}
}

func normalizeCast(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
