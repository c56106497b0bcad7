package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Pluralize returns the plural of a table or field name. A configured
// override wins over jinzhu/inflection; its value is returned in the casing
// of word, so "orderItem" with order_item: order_lines gives "orderLines".
func (n *Namer) Pluralize(word string) string {
	if override, ok := lookupOverride(n.config.PluralOverrides, word); ok {
		return matchCase(word, override)
	}
	return inflection.Plural(word)
}

// Singularize is the inverse of Pluralize and follows the same override rules.
func (n *Namer) Singularize(word string) string {
	if override, ok := lookupOverride(n.config.SingularOverrides, word); ok {
		return matchCase(word, override)
	}
	return inflection.Singular(word)
}

func lookupOverride(overrides map[string]string, word string) (string, bool) {
	if v, ok := overrides[word]; ok {
		return v, true
	}
	key := overrideKey(word)
	for k, v := range overrides {
		if overrideKey(k) == key {
			return v, true
		}
	}
	return "", false
}

func overrideKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// matchCase renders a snake_case override the way word is written: camelCase
// when word is a camelCase field name, PascalCase when it starts upper-case.
// Snake-case and single-word inputs get the override unchanged.
func matchCase(word, override string) string {
	if word == "" || override == "" || strings.Contains(word, "_") {
		return override
	}
	if !strings.Contains(override, "_") {
		if strings.ToUpper(word[:1]) == word[:1] {
			return strings.ToUpper(override[:1]) + override[1:]
		}
		return override
	}
	if strings.ToUpper(word[:1]) == word[:1] {
		return toPascalCase(override)
	}
	return toCamelCase(override)
}
