package apirequest

import (
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/sqlutil"
)

// SelectKind distinguishes the forms a select item can take.
type SelectKind int

const (
	SelectColumn SelectKind = iota
	SelectStar
	SelectEmbed
)

// SelectItem is one entry of a select list: a column, "*", or an embedded
// resource with its own select list.
type SelectItem struct {
	Kind  SelectKind
	Name  string
	Alias string
	Cast  string

	// Embed only.
	Hint     string
	Inner    bool
	Children []SelectItem
}

// OutputName is the key the item appears under in the response.
func (s SelectItem) OutputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// ParseSelect parses a select parameter such as
// "id,total:amount::text,buyer:users!buyer_id!inner(name),items(*)".
// An empty string selects every column.
func ParseSelect(raw string) ([]SelectItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []SelectItem{{Kind: SelectStar, Name: "*"}}, nil
	}
	parts, err := splitSelect(raw)
	if err != nil {
		return nil, err
	}
	items := make([]SelectItem, 0, len(parts))
	for _, part := range parts {
		item, err := parseSelectItem(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseSelectItem(part string) (SelectItem, error) {
	if part == "" {
		return SelectItem{}, apierror.FilterSyntax("Empty item in select")
	}
	if part == "*" {
		return SelectItem{Kind: SelectStar, Name: "*"}, nil
	}

	alias, rest := splitAlias(part)
	if err := sqlutil.ValidateIdentifier(alias); err != nil {
		return SelectItem{}, apierror.FilterSyntax("Invalid alias in select item %q: %v", part, err)
	}
	if open := strings.IndexByte(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return SelectItem{}, apierror.FilterSyntax("Unbalanced parentheses in select item %q", part)
		}
		head := rest[:open]
		inner := rest[open+1 : len(rest)-1]
		item := SelectItem{Kind: SelectEmbed, Alias: alias}
		segs := strings.Split(head, "!")
		item.Name = segs[0]
		for _, mod := range segs[1:] {
			switch mod {
			case "inner":
				item.Inner = true
			case "left":
				item.Inner = false
			case "":
				return SelectItem{}, apierror.FilterSyntax("Empty embed hint in %q", part)
			default:
				if item.Hint != "" {
					return SelectItem{}, apierror.FilterSyntax("Multiple hints in %q", part)
				}
				item.Hint = mod
			}
		}
		if item.Name == "" {
			return SelectItem{}, apierror.FilterSyntax("Missing resource name in %q", part)
		}
		if strings.TrimSpace(inner) != "" {
			children, err := ParseSelect(inner)
			if err != nil {
				return SelectItem{}, err
			}
			item.Children = children
		}
		return item, nil
	}

	item := SelectItem{Kind: SelectColumn, Alias: alias, Name: rest}
	if idx := strings.Index(rest, "::"); idx >= 0 {
		item.Name, item.Cast = rest[:idx], rest[idx+2:]
		if item.Cast == "" {
			return SelectItem{}, apierror.FilterSyntax("Empty cast in select item %q", part)
		}
	}
	if item.Name == "" || strings.ContainsAny(item.Name, "!)") {
		return SelectItem{}, apierror.FilterSyntax("Invalid select item %q", part)
	}
	return item, nil
}

// splitAlias splits "alias:rest" on a single colon that is not part of "::".
func splitAlias(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			return "", s
		case ':':
			if i+1 < len(s) && s[i+1] == ':' {
				return "", s
			}
			return s[:i], s[i+1:]
		}
	}
	return "", s
}

func splitSelect(s string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, apierror.FilterSyntax("Unbalanced parentheses in select %q", s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, apierror.FilterSyntax("Unbalanced parentheses in select %q", s)
	}
	return append(parts, s[start:]), nil
}
