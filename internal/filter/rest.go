package filter

import (
	"sort"
	"strings"

	"pgrest/internal/apierror"
)

// Param is one filter query parameter.
type Param struct {
	Key   string
	Value string
}

// ParseFilters parses filter parameters and combines them with AND in key
// order. It returns nil when params is empty.
func ParseFilters(params []Param) (Node, error) {
	sorted := append([]Param(nil), params...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	nodes := make([]Node, 0, len(sorted))
	for _, p := range sorted {
		n, err := ParseFilter(p.Key, p.Value)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return NewAnd(nodes...), nil
}

// IsLogicKey reports whether key introduces a logic group, optionally scoped
// to an embed path (rel.or, rel.not.and).
func IsLogicKey(key string) bool {
	_, _, _, ok := splitLogicKey(key)
	return ok
}

// ParseFilter parses one "key=value" filter parameter. Keys are column paths
// (customer.country, price::text) or logic groups (or, not.and, rel.or).
func ParseFilter(key, raw string) (Node, error) {
	if prefix, op, negated, ok := splitLogicKey(key); ok {
		if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
			return nil, apierror.FilterSyntax("Logic operator '%s' expects a parenthesized list, got %q", key, raw)
		}
		n, err := parseGroup(op, raw[1:len(raw)-1], prefix)
		if err != nil {
			return nil, err
		}
		if negated {
			return Not{Child: n}, nil
		}
		return n, nil
	}

	path, cast, err := parseColumnKey(key)
	if err != nil {
		return nil, err
	}
	return parseComparison(path, cast, raw, false)
}

func splitLogicKey(key string) (prefix []string, op string, negated, ok bool) {
	segs := strings.Split(key, ".")
	last := segs[len(segs)-1]
	if last != "or" && last != "and" {
		return nil, "", false, false
	}
	rest := segs[:len(segs)-1]
	if len(rest) > 0 && rest[len(rest)-1] == "not" {
		negated = true
		rest = rest[:len(rest)-1]
	}
	for _, s := range rest {
		if s == "" {
			return nil, "", false, false
		}
	}
	return rest, last, negated, true
}

func parseColumnKey(key string) ([]string, string, error) {
	cast := ""
	if idx := strings.Index(key, "::"); idx >= 0 {
		key, cast = key[:idx], key[idx+2:]
		if cast == "" {
			return nil, "", apierror.FilterSyntax("Empty cast in filter key %q", key+"::")
		}
	}
	if key == "" {
		return nil, "", apierror.FilterSyntax("Empty filter column")
	}
	path := strings.Split(key, ".")
	for _, seg := range path {
		if seg == "" {
			return nil, "", apierror.FilterSyntax("Invalid filter column path %q", key)
		}
	}
	return path, cast, nil
}

// parseComparison parses "[not.]op[(lang)].value" for a column. Inside logic
// groups a scalar value may be double-quoted to protect commas and parentheses.
func parseComparison(path []string, cast, raw string, quoted bool) (Node, error) {
	negated := false
	opToken, rest, found := strings.Cut(raw, ".")
	if opToken == "not" && found {
		negated = true
		opToken, rest, found = strings.Cut(rest, ".")
	}

	language := ""
	if open := strings.IndexByte(opToken, '('); open >= 0 {
		if !strings.HasSuffix(opToken, ")") {
			return nil, apierror.FilterSyntax("Unbalanced parentheses in operator %q", opToken)
		}
		language = opToken[open+1 : len(opToken)-1]
		opToken = opToken[:open]
		if language == "" {
			return nil, apierror.FilterSyntax("Empty language for operator %q", opToken)
		}
	}

	op := Operator(opToken)
	if _, known := operators[op]; !known {
		return nil, apierror.WithHint(
			apierror.FilterSyntax("Unknown operator %q in filter on %q", opToken, strings.Join(path, ".")),
			"Operators are eq, neq, gt, gte, lt, lte, like, ilike, in, is, fts, plfts, phfts, wfts, cs, cd, ov.")
	}
	if !found {
		return nil, apierror.FilterSyntax("Missing value for operator %q on %q", opToken, strings.Join(path, "."))
	}
	if language != "" && !op.IsFullText() {
		return nil, apierror.FilterSyntax("Operator %q does not take a language", opToken)
	}

	cmp := Comparison{Path: path, Cast: cast, Operator: op, Language: language}
	switch op {
	case OpIn:
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return nil, apierror.FilterSyntax("Operator 'in' expects a parenthesized list, got %q", rest)
		}
		inner := rest[1 : len(rest)-1]
		cmp.Values = []string{}
		if strings.TrimSpace(inner) == "" {
			break
		}
		items, err := splitTopLevel(inner)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			cmp.Values = append(cmp.Values, unquote(strings.TrimSpace(item)))
		}
	case OpIs:
		v := strings.ToLower(rest)
		switch v {
		case "null", "true", "false", "unknown":
			cmp.Value = v
		default:
			return nil, apierror.FilterSyntax("Operator 'is' expects null, true, false or unknown, got %q", rest)
		}
	case OpLike, OpILike:
		if quoted {
			rest = unquote(rest)
		}
		cmp.Value = strings.ReplaceAll(rest, "*", "%")
	default:
		if quoted {
			rest = unquote(rest)
		}
		cmp.Value = rest
	}

	if negated {
		return Not{Child: cmp}, nil
	}
	return cmp, nil
}

// parseGroup parses the inside of "op(...)" with every column prefixed by path.
func parseGroup(op, inner string, prefix []string) (Node, error) {
	items, err := splitTopLevel(inner)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || (len(items) == 1 && strings.TrimSpace(items[0]) == "") {
		return nil, apierror.FilterSyntax("Empty '%s' group", op)
	}
	children := make([]Node, 0, len(items))
	for _, item := range items {
		child, err := parseGroupItem(strings.TrimSpace(item), prefix)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if op == "or" {
		return NewOr(children...), nil
	}
	return NewAnd(children...), nil
}

func parseGroupItem(item string, prefix []string) (Node, error) {
	negated := false
	body := item
	if strings.HasPrefix(body, "not.") {
		if after := body[len("not."):]; strings.HasPrefix(after, "and(") || strings.HasPrefix(after, "or(") {
			negated = true
			body = after
		}
	}
	for _, op := range []string{"and", "or"} {
		if strings.HasPrefix(body, op+"(") {
			if !strings.HasSuffix(body, ")") {
				return nil, apierror.FilterSyntax("Unbalanced parentheses in %q", item)
			}
			n, err := parseGroup(op, body[len(op)+1:len(body)-1], prefix)
			if err != nil {
				return nil, err
			}
			if negated {
				return Not{Child: n}, nil
			}
			return n, nil
		}
	}

	column, rest, found := strings.Cut(item, ".")
	if !found {
		return nil, apierror.FilterSyntax("Malformed logic tree item %q", item)
	}
	colPath, cast, err := parseColumnKey(column)
	if err != nil {
		return nil, err
	}
	path := append(append([]string(nil), prefix...), colPath...)
	return parseComparison(path, cast, rest, true)
}

// splitTopLevel splits on commas outside parentheses and double quotes.
func splitTopLevel(s string) ([]string, error) {
	var (
		items   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch == '\\' && inQuote:
			i++
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, apierror.FilterSyntax("Unbalanced parentheses in %q", s)
			}
		case ch == ',' && depth == 0:
			items = append(items, s[start:i])
			start = i + 1
		}
	}
	if depth != 0 {
		return nil, apierror.FilterSyntax("Unbalanced parentheses in %q", s)
	}
	if inQuote {
		return nil, apierror.FilterSyntax("Unterminated quote in %q", s)
	}
	return append(items, s[start:]), nil
}

// unquote strips surrounding double quotes and resolves backslash escapes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return unescape(s[1 : len(s)-1])
	}
	return s
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
