package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
)

func (r *Resolver) addTableMutations(fields graphql.Fields, info *tableInfo) {
	t := info.table
	if len(info.fields) == 0 {
		return
	}
	rows := graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(r.objectType(info))))

	if t.Insertable {
		name := r.namer.RegisterMutationField("insert", info.typeName)
		fields[name] = &graphql.Field{
			Type:        rows,
			Description: "Insert rows into " + t.QualifiedName().String() + ". With onConflict, conflicting rows are updated.",
			Args: graphql.FieldConfigArgument{
				"objects":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(r.insertInput(info))))},
				"onConflict": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			},
			Resolve: r.makeMutationResolver(info, apirequest.ActionInsert),
		}
	}
	if t.Updatable {
		name := r.namer.RegisterMutationField("update", info.typeName)
		fields[name] = &graphql.Field{
			Type:        rows,
			Description: "Update the rows of " + t.QualifiedName().String() + " matching filter.",
			Args: graphql.FieldConfigArgument{
				"filter": &graphql.ArgumentConfig{Type: r.filterInput(info)},
				"set":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(r.patchInput(info))},
			},
			Resolve: r.makeMutationResolver(info, apirequest.ActionUpdate),
		}
	}
	if t.Deletable {
		name := r.namer.RegisterMutationField("delete", info.typeName)
		fields[name] = &graphql.Field{
			Type:        rows,
			Description: "Delete the rows of " + t.QualifiedName().String() + " matching filter.",
			Args: graphql.FieldConfigArgument{
				"filter": &graphql.ArgumentConfig{Type: r.filterInput(info)},
			},
			Resolve: r.makeMutationResolver(info, apirequest.ActionDelete),
		}
	}
}

func (r *Resolver) makeMutationResolver(info *tableInfo, action apirequest.Action) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "graphql.mutation."+action.String(), info)
		req, shape, err := r.mutationRequest(p, info, action)
		var rows []interface{}
		if err == nil {
			rows, err = r.run(ctx, req, shape)
		}
		finishResolverSpan(span, err, len(rows))
		span.End()
		if err != nil {
			return nil, fieldError(err)
		}
		return rows, nil
	}
}

// mutationRequest builds a mutation that returns the selected columns of
// the affected rows.
func (r *Resolver) mutationRequest(p graphql.ResolveParams, info *tableInfo, action apirequest.Action) (*apirequest.Request, *keyShape, error) {
	req := &apirequest.Request{
		Action:      action,
		Path:        graphqlPath,
		Resource:    info.table.Name,
		Schema:      info.table.Schema,
		Accept:      apirequest.MediaJSON,
		Preferences: apirequest.Preferences{Return: apirequest.ReturnRepresentation},
	}

	var rows []map[string]interface{}
	switch action {
	case apirequest.ActionInsert:
		req.Method = http.MethodPost
		objects, _ := p.Args["objects"].([]interface{})
		for _, obj := range objects {
			m, _ := obj.(map[string]interface{})
			rows = append(rows, columnValues(info, m))
		}
		if conflict, ok := p.Args["onConflict"].([]interface{}); ok {
			req.Action = apirequest.ActionUpsert
			req.Preferences.Resolution = apirequest.ResolutionMergeDuplicates
			for _, c := range conflict {
				name, _ := c.(string)
				col, ok := info.columns[name]
				if !ok {
					return nil, nil, apierror.UnknownColumn(info.table.Name, name)
				}
				req.OnConflict = append(req.OnConflict, col.Name)
			}
		}
	case apirequest.ActionUpdate:
		req.Method = http.MethodPatch
		set, _ := p.Args["set"].(map[string]interface{})
		rows = append(rows, columnValues(info, set))
	default:
		req.Method = http.MethodDelete
	}

	if rows != nil {
		payload, err := payloadOf(rows, action == apirequest.ActionInsert)
		if err != nil {
			return nil, nil, err
		}
		req.Payload = payload
	}

	shape, err := r.applySelection(p, info, req)
	if err != nil {
		return nil, nil, err
	}
	if raw, ok := p.Args["filter"].(map[string]interface{}); ok && action != apirequest.ActionInsert {
		if err := r.applyListArgs(info, map[string]interface{}{"filter": raw}, nil, req, nil); err != nil {
			return nil, nil, err
		}
	}
	return req, shape, nil
}

// columnValues renames GraphQL input fields to columns.
func columnValues(info *tableInfo, in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if col, ok := info.columns[k]; ok {
			out[col.Name] = v
		}
	}
	return out
}

// payloadOf encodes rows and reads them back the way a REST body is read,
// so both surfaces share one payload path.
func payloadOf(rows []map[string]interface{}, array bool) (*apirequest.Payload, error) {
	var v interface{} = rows
	if !array && len(rows) == 1 {
		v = rows[0]
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode mutation input: %w", err)
	}
	return apirequest.ReadPayload(bytes.NewReader(body), "application/json", nil)
}
