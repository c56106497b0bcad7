package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrest/internal/apierror"
)

// Each case pairs a query string with the GraphQL input that means the same thing.
func TestFromGraphQL_MatchesREST(t *testing.T) {
	tests := []struct {
		name    string
		rest    []Param
		graphql map[string]interface{}
	}{
		{
			name:    "single comparison",
			rest:    []Param{{Key: "price", Value: "lt.30"}},
			graphql: map[string]interface{}{"price": map[string]interface{}{"lt": 30}},
		},
		{
			name:    "decimal keeps its digits",
			rest:    []Param{{Key: "price", Value: "eq.19.990"}},
			graphql: map[string]interface{}{"price": map[string]interface{}{"eq": json.Number("19.990")}},
		},
		{
			name: "implicit and across fields",
			rest: []Param{{Key: "price", Value: "gte.2.5"}, {Key: "name", Value: "ilike.*bolt*"}},
			graphql: map[string]interface{}{
				"price": map[string]interface{}{"gte": 2.5},
				"name":  map[string]interface{}{"ilike": "%bolt%"},
			},
		},
		{
			name: "several operators on one field",
			rest: []Param{{Key: "and", Value: "(qty.gt.1,qty.lt.10)"}},
			graphql: map[string]interface{}{
				"qty": map[string]interface{}{"lt": 10, "gt": 1},
			},
		},
		{
			name:    "like accepts the star wildcard",
			rest:    []Param{{Key: "name", Value: "like.bolt*"}},
			graphql: map[string]interface{}{"name": map[string]interface{}{"like": "bolt*"}},
		},
		{
			name:    "in list",
			rest:    []Param{{Key: "id", Value: "in.(1,2,3)"}},
			graphql: map[string]interface{}{"id": map[string]interface{}{"in": []interface{}{1, 2, 3}}},
		},
		{
			name:    "is null",
			rest:    []Param{{Key: "deleted_at", Value: "is.null"}},
			graphql: map[string]interface{}{"deleted_at": map[string]interface{}{"isNull": true}},
		},
		{
			name:    "is not null",
			rest:    []Param{{Key: "deleted_at", Value: "not.is.null"}},
			graphql: map[string]interface{}{"deleted_at": map[string]interface{}{"isNull": false}},
		},
		{
			name: "or group",
			rest: []Param{{Key: "or", Value: "(active.eq.true,age.lt.18)"}},
			graphql: map[string]interface{}{
				"or": []interface{}{
					map[string]interface{}{"active": map[string]interface{}{"eq": true}},
					map[string]interface{}{"age": map[string]interface{}{"lt": 18}},
				},
			},
		},
		{
			name: "or nested with and",
			rest: []Param{
				{Key: "name", Value: "eq.bob"},
				{Key: "or", Value: "(a.eq.1,and(b.eq.2,c.neq.3))"},
			},
			graphql: map[string]interface{}{
				"name": map[string]interface{}{"eq": "bob"},
				"or": []interface{}{
					map[string]interface{}{"a": map[string]interface{}{"eq": 1}},
					map[string]interface{}{"and": []interface{}{
						map[string]interface{}{"b": map[string]interface{}{"eq": 2}},
						map[string]interface{}{"c": map[string]interface{}{"neq": 3}},
					}},
				},
			},
		},
		{
			name: "negated group",
			rest: []Param{{Key: "not.and", Value: "(a.eq.1,b.eq.2)"}},
			graphql: map[string]interface{}{
				"not": map[string]interface{}{
					"a": map[string]interface{}{"eq": 1},
					"b": map[string]interface{}{"eq": 2},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restNode, err := ParseFilters(tt.rest)
			require.NoError(t, err)
			gqlNode, err := FromGraphQL(tt.graphql)
			require.NoError(t, err)
			assert.Equal(t, restNode, gqlNode)
		})
	}
}

func TestFromGraphQL_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
	}{
		{name: "unknown operator", input: map[string]interface{}{"a": map[string]interface{}{"approx": 1}}},
		{name: "field not an object", input: map[string]interface{}{"a": 1}},
		{name: "isNull not boolean", input: map[string]interface{}{"a": map[string]interface{}{"isNull": "yes"}}},
		{name: "in not a list", input: map[string]interface{}{"a": map[string]interface{}{"in": 1}}},
		{name: "null operand", input: map[string]interface{}{"a": map[string]interface{}{"eq": nil}}},
		{name: "or not a list", input: map[string]interface{}{"or": map[string]interface{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromGraphQL(tt.input)
			require.Error(t, err)
			assert.True(t, apierror.HasCode(err, apierror.CodeFilterSyntax))
		})
	}
}

func TestFromGraphQL_Empty(t *testing.T) {
	n, err := FromGraphQL(nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}
