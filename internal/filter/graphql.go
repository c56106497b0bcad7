package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pgrest/internal/apierror"
)

// graphqlOperators lists the GraphQL filter operators in canonical order.
var graphqlOperators = []string{"eq", "neq", "gt", "gte", "lt", "lte", "like", "ilike", "in", "isNull"}

// FromGraphQL converts a GraphQL filter input object into a filter tree.
// Fields are visited in name order and operators in canonical order, so the
// result matches ParseFilters for the equivalent query string.
func FromGraphQL(input map[string]interface{}) (Node, error) {
	if len(input) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var nodes []Node
	for _, key := range keys {
		raw := input[key]
		switch key {
		case "and", "or":
			list, ok := raw.([]interface{})
			if !ok {
				return nil, apierror.FilterSyntax("'%s' expects a list of filter objects", key)
			}
			children := make([]Node, 0, len(list))
			for _, item := range list {
				obj, ok := item.(map[string]interface{})
				if !ok {
					return nil, apierror.FilterSyntax("'%s' expects a list of filter objects", key)
				}
				child, err := FromGraphQL(obj)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			if key == "or" {
				nodes = append(nodes, NewOr(children...))
			} else {
				nodes = append(nodes, NewAnd(children...))
			}
		case "not":
			obj, ok := raw.(map[string]interface{})
			if !ok {
				return nil, apierror.FilterSyntax("'not' expects a filter object")
			}
			child, err := FromGraphQL(obj)
			if err != nil {
				return nil, err
			}
			if child != nil {
				nodes = append(nodes, Not{Child: child})
			}
		default:
			ops, ok := raw.(map[string]interface{})
			if !ok {
				return nil, apierror.FilterSyntax("Filter on '%s' expects an operator object", key)
			}
			fieldNodes, err := fieldComparisons(key, ops)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, fieldNodes...)
		}
	}
	return NewAnd(nodes...), nil
}

func fieldComparisons(column string, ops map[string]interface{}) ([]Node, error) {
	for name := range ops {
		if !isGraphQLOperator(name) {
			return nil, apierror.FilterSyntax("Unknown operator %q in filter on %q", name, column)
		}
	}
	var nodes []Node
	for _, name := range graphqlOperators {
		value, ok := ops[name]
		if !ok {
			continue
		}
		path := []string{column}
		switch name {
		case "isNull":
			isNull, ok := value.(bool)
			if !ok {
				return nil, apierror.FilterSyntax("'isNull' on %q expects a boolean", column)
			}
			cmp := Comparison{Path: path, Operator: OpIs, Value: "null"}
			if isNull {
				nodes = append(nodes, cmp)
			} else {
				nodes = append(nodes, Not{Child: cmp})
			}
		case "in":
			list, ok := value.([]interface{})
			if !ok {
				return nil, apierror.FilterSyntax("'in' on %q expects a list", column)
			}
			values := make([]string, 0, len(list))
			for _, item := range list {
				s, err := literalString(item)
				if err != nil {
					return nil, apierror.FilterSyntax("'in' on %q: %s", column, err.Error())
				}
				values = append(values, s)
			}
			nodes = append(nodes, Comparison{Path: path, Operator: OpIn, Values: values})
		default:
			s, err := literalString(value)
			if err != nil {
				return nil, apierror.FilterSyntax("'%s' on %q: %s", name, column, err.Error())
			}
			op := Operator(name)
			if op == OpLike || op == OpILike {
				s = strings.ReplaceAll(s, "*", "%")
			}
			nodes = append(nodes, Comparison{Path: path, Operator: op, Value: s})
		}
	}
	return nodes, nil
}

func isGraphQLOperator(name string) bool {
	for _, op := range graphqlOperators {
		if op == name {
			return true
		}
	}
	return false
}

// literalString renders a GraphQL scalar the way it would appear in a query string.
func literalString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case nil:
		return "", fmt.Errorf("null is not a valid operand, use isNull")
	default:
		return "", fmt.Errorf("unsupported operand type %T", v)
	}
}
