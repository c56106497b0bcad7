package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/filter"
)

// graphqlPath is reported as the request path to the database session.
const graphqlPath = "/graphql"

// selectionState accumulates what a selection tree contributes to one
// request besides the select list itself.
type selectionState struct {
	fragments map[string]ast.Definition
	variables map[string]interface{}
	where     []filter.Node
	embeds    map[string]*apirequest.EmbedParams
}

// readRequest turns a root list field into a read request.
func (r *Resolver) readRequest(p graphql.ResolveParams, info *tableInfo) (*apirequest.Request, *keyShape, error) {
	req := &apirequest.Request{
		Action:   apirequest.ActionRead,
		Method:   http.MethodGet,
		Path:     graphqlPath,
		Resource: info.table.Name,
		Schema:   info.table.Schema,
		Accept:   apirequest.MediaJSON,
	}
	shape, err := r.applySelection(p, info, req)
	if err != nil {
		return nil, nil, err
	}
	if err := r.applyListArgs(info, p.Args, nil, req, nil); err != nil {
		return nil, nil, err
	}
	return req, shape, nil
}

// applySelection fills Select, Embeds and the embedded part of Where from
// the field's selection set.
func (r *Resolver) applySelection(p graphql.ResolveParams, info *tableInfo, req *apirequest.Request) (*keyShape, error) {
	state := &selectionState{
		fragments: p.Info.Fragments,
		variables: p.Info.VariableValues,
		embeds:    make(map[string]*apirequest.EmbedParams),
	}
	sets := make([]*ast.SelectionSet, 0, len(p.Info.FieldASTs))
	for _, f := range p.Info.FieldASTs {
		sets = append(sets, f.SelectionSet)
	}
	shape := &keyShape{}
	items, err := r.selectItems(info, sets, nil, shape, state)
	if err != nil {
		return nil, err
	}
	req.Select = items
	req.Embeds = state.embeds
	req.Where = filter.NewAnd(append([]filter.Node{req.Where}, state.where...)...)
	return shape, nil
}

func (r *Resolver) selectItems(info *tableInfo, sets []*ast.SelectionSet, path []string, shape *keyShape, state *selectionState) ([]apirequest.SelectItem, error) {
	keys, byKey := collectFields(sets, state.fragments)
	items := make([]apirequest.SelectItem, 0, len(keys))
	for _, key := range keys {
		fields := byKey[key]
		name := fields[0].Name.Value
		if name == "__typename" {
			continue
		}
		if col, ok := info.columns[name]; ok {
			item := apirequest.SelectItem{Kind: apirequest.SelectColumn, Name: col.Name}
			if key != col.Name {
				item.Alias = key
			}
			items = append(items, item)
			continue
		}
		l, ok := info.links[name]
		if !ok {
			return nil, apierror.UnknownColumn(info.table.Name, name)
		}

		outKey := shape.outputKey(key, path)
		childPath := append(append([]string(nil), path...), outKey)
		childSets := make([]*ast.SelectionSet, 0, len(fields))
		for _, f := range fields {
			childSets = append(childSets, f.SelectionSet)
		}
		children, err := r.selectItems(l.target, childSets, childPath, shape.child(outKey), state)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			children = []apirequest.SelectItem{{Kind: apirequest.SelectStar, Name: "*"}}
		}
		items = append(items, apirequest.SelectItem{
			Kind:     apirequest.SelectEmbed,
			Name:     l.target.table.Name,
			Alias:    outKey,
			Hint:     l.hint,
			Children: children,
		})

		if l.toOne() {
			continue
		}
		args, err := argumentValues(fields[0], state.variables)
		if err != nil {
			return nil, err
		}
		params := &apirequest.EmbedParams{}
		var where []filter.Node
		if err := r.applyListArgs(l.target, args, params, nil, &where); err != nil {
			return nil, err
		}
		for _, w := range where {
			state.where = append(state.where, filter.Prefix(w, childPath))
		}
		if params.Order != nil || params.Limit != nil || params.Offset != nil {
			state.embeds[strings.Join(childPath, ".")] = params
		}
	}
	if len(items) == 0 {
		items = append(items, apirequest.SelectItem{Kind: apirequest.SelectStar, Name: "*"})
	}
	return items, nil
}

// applyListArgs applies filter, orderBy, limit and offset either to the
// root request or to embed params, whichever is non-nil.
func (r *Resolver) applyListArgs(info *tableInfo, args map[string]interface{}, params *apirequest.EmbedParams, req *apirequest.Request, where *[]filter.Node) error {
	var (
		order         []apirequest.OrderTerm
		limit, offset *int
	)
	if raw, ok := args["filter"].(map[string]interface{}); ok {
		node, err := filter.FromGraphQL(columnKeys(info, raw))
		if err != nil {
			return err
		}
		if req != nil {
			req.Where = filter.NewAnd(req.Where, node)
		} else if node != nil {
			*where = append(*where, node)
		}
	}
	if raw, ok := args["orderBy"].([]interface{}); ok {
		terms, err := orderTerms(info, raw)
		if err != nil {
			return err
		}
		order = terms
	}
	if v, ok := intArg(args, "limit"); ok {
		limit = &v
	}
	if v, ok := intArg(args, "offset"); ok {
		offset = &v
	}
	if req != nil {
		req.Order, req.Limit, req.Offset = order, limit, offset
		return nil
	}
	params.Order, params.Limit, params.Offset = order, limit, offset
	return nil
}

// columnKeys renames GraphQL field names in a filter input to columns.
func columnKeys(info *tableInfo, in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch k {
		case "and", "or":
			list, _ := v.([]interface{})
			renamed := make([]interface{}, 0, len(list))
			for _, item := range list {
				if obj, ok := item.(map[string]interface{}); ok {
					renamed = append(renamed, columnKeys(info, obj))
				}
			}
			out[k] = renamed
		case "not":
			if obj, ok := v.(map[string]interface{}); ok {
				out[k] = columnKeys(info, obj)
			}
		default:
			if col, ok := info.columns[k]; ok {
				out[col.Name] = v
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func orderTerms(info *tableInfo, raw []interface{}) ([]apirequest.OrderTerm, error) {
	var terms []apirequest.OrderTerm
	for _, entry := range raw {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		names := make([]string, 0, len(obj))
		for name := range obj {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			col, ok := info.columns[name]
			if !ok {
				return nil, apierror.UnknownColumn(info.table.Name, name)
			}
			dir, _ := obj[name].(string)
			term := apirequest.OrderTerm{Column: col.Name, Descending: strings.HasPrefix(dir, "DESC")}
			switch {
			case strings.HasSuffix(dir, "_NULLS_FIRST"):
				term.Nulls = apirequest.NullsFirst
			case strings.HasSuffix(dir, "_NULLS_LAST"):
				term.Nulls = apirequest.NullsLast
			}
			terms = append(terms, term)
		}
	}
	return terms, nil
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// collectFields groups the fields of the selection sets by response key,
// expanding fragments, in first-seen order.
func collectFields(sets []*ast.SelectionSet, fragments map[string]ast.Definition) ([]string, map[string][]*ast.Field) {
	var keys []string
	byKey := make(map[string][]*ast.Field)
	visited := make(map[string]bool)
	var walk func(set *ast.SelectionSet)
	walk = func(set *ast.SelectionSet) {
		if set == nil {
			return
		}
		for _, sel := range set.Selections {
			switch s := sel.(type) {
			case *ast.Field:
				key := s.Name.Value
				if s.Alias != nil && s.Alias.Value != "" {
					key = s.Alias.Value
				}
				if _, seen := byKey[key]; !seen {
					keys = append(keys, key)
				}
				byKey[key] = append(byKey[key], s)
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				name := s.Name.Value
				if visited[name] {
					continue
				}
				visited[name] = true
				if def, ok := fragments[name].(*ast.FragmentDefinition); ok {
					walk(def.SelectionSet)
				}
			}
		}
	}
	for _, set := range sets {
		walk(set)
	}
	return keys, byKey
}

// argumentValues evaluates a nested field's arguments. Nested resolvers run
// after the statement, so their arguments are read from the AST here.
func argumentValues(field *ast.Field, variables map[string]interface{}) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := astValue(arg.Value, variables)
		if err != nil {
			return nil, err
		}
		if v != nil {
			args[arg.Name.Value] = v
		}
	}
	return args, nil
}

func astValue(value ast.Value, variables map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case *ast.Variable:
		return variables[v.Name.Value], nil
	case *ast.IntValue:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, apierror.FilterSyntax("Invalid integer %q", v.Value)
		}
		if n >= -1<<31 && n < 1<<31 {
			return int(n), nil
		}
		return n, nil
	case *ast.FloatValue:
		return json.Number(v.Value), nil
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			iv, err := astValue(item, variables)
			if err != nil {
				return nil, err
			}
			out = append(out, iv)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			fv, err := astValue(f.Value, variables)
			if err != nil {
				return nil, err
			}
			out[f.Name.Value] = fv
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported argument value %T", value)
}

// keyShape records embed output keys that were renamed to keep them
// unique along their path, so decoded rows can be given back the response
// keys the client asked for.
type keyShape struct {
	renames  map[string]string
	children map[string]*keyShape
}

// outputKey returns key, or key with a depth suffix when an ancestor embed
// already uses it.
func (s *keyShape) outputKey(key string, path []string) string {
	out := key
	for n := len(path); contains(path, out); n++ {
		out = key + "_" + strconv.Itoa(n)
	}
	if out != key {
		if s.renames == nil {
			s.renames = make(map[string]string)
		}
		s.renames[out] = key
	}
	return out
}

func (s *keyShape) child(outKey string) *keyShape {
	if s.children == nil {
		s.children = make(map[string]*keyShape)
	}
	c := &keyShape{}
	s.children[outKey] = c
	return c
}

func (s *keyShape) restore(rows []interface{}) {
	if s == nil || (len(s.renames) == 0 && len(s.children) == 0) {
		return
	}
	for _, row := range rows {
		s.restoreValue(row)
	}
}

func (s *keyShape) restoreValue(v interface{}) {
	switch val := v.(type) {
	case []interface{}:
		s.restore(val)
	case map[string]interface{}:
		for outKey, c := range s.children {
			if child, ok := val[outKey]; ok {
				c.restoreValue(child)
			}
		}
		for outKey, key := range s.renames {
			if child, ok := val[outKey]; ok {
				delete(val, outKey)
				val[key] = child
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func decodeRows(body []byte) ([]interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode result body: %w", err)
	}
	return rows, nil
}
