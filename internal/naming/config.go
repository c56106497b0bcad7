// Package naming derives GraphQL type and field names from the schema cache:
// PascalCase types, camelCase fields, pluralized relationship links, and
// suffixes for names that clash with reserved words or with each other.
package naming

// Config carries the inflection overrides from the naming section of the
// server config. Keys name a table or a word as it appears in the database
// (order_item, person). Viper lowercases map keys, so lookups ignore case and
// underscores: "order_item" also matches the camelCase form "orderItem".
type Config struct {
	// PluralOverrides maps a singular name to its plural, e.g. person: people.
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// SingularOverrides maps a plural name to its singular, e.g. data: datum.
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig has no overrides; jinzhu/inflection handles every word.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   make(map[string]string),
		SingularOverrides: make(map[string]string),
	}
}
