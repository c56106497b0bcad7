package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrest/internal/apierror"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name string
		key  string
		raw  string
		want Node
	}{
		{
			name: "simple comparison",
			key:  "price", raw: "lt.30",
			want: Comparison{Path: []string{"price"}, Operator: OpLt, Value: "30"},
		},
		{
			name: "value keeps dots",
			key:  "version", raw: "eq.1.2.3",
			want: Comparison{Path: []string{"version"}, Operator: OpEq, Value: "1.2.3"},
		},
		{
			name: "negated",
			key:  "status", raw: "not.eq.shipped",
			want: Not{Child: Comparison{Path: []string{"status"}, Operator: OpEq, Value: "shipped"}},
		},
		{
			name: "embedded path",
			key:  "customer.country", raw: "eq.US",
			want: Comparison{Path: []string{"customer", "country"}, Operator: OpEq, Value: "US"},
		},
		{
			name: "cast",
			key:  "price::text", raw: "like.3*",
			want: Comparison{Path: []string{"price"}, Cast: "text", Operator: OpLike, Value: "3%"},
		},
		{
			name: "in list with quotes",
			key:  "name", raw: `in.(a,"b,c", d)`,
			want: Comparison{Path: []string{"name"}, Operator: OpIn, Values: []string{"a", "b,c", "d"}},
		},
		{
			name: "is null",
			key:  "deleted_at", raw: "is.NULL",
			want: Comparison{Path: []string{"deleted_at"}, Operator: OpIs, Value: "null"},
		},
		{
			name: "full text with language",
			key:  "body", raw: "fts(english).cat & dog",
			want: Comparison{Path: []string{"body"}, Operator: OpFTS, Language: "english", Value: "cat & dog"},
		},
		{
			name: "containment",
			key:  "tags", raw: "cs.{a,b}",
			want: Comparison{Path: []string{"tags"}, Operator: OpCs, Value: "{a,b}"},
		},
		{
			name: "or group",
			key:  "or", raw: "(age.lt.18,age.gt.65)",
			want: Or{Children: []Node{
				Comparison{Path: []string{"age"}, Operator: OpLt, Value: "18"},
				Comparison{Path: []string{"age"}, Operator: OpGt, Value: "65"},
			}},
		},
		{
			name: "nested groups with quoted value",
			key:  "and", raw: `(grade.gte.90,or(name.eq."Smith, J",not.and(a.eq.1,b.in.(2,3))))`,
			want: And{Children: []Node{
				Comparison{Path: []string{"grade"}, Operator: OpGte, Value: "90"},
				Or{Children: []Node{
					Comparison{Path: []string{"name"}, Operator: OpEq, Value: "Smith, J"},
					Not{Child: And{Children: []Node{
						Comparison{Path: []string{"a"}, Operator: OpEq, Value: "1"},
						Comparison{Path: []string{"b"}, Operator: OpIn, Values: []string{"2", "3"}},
					}}},
				}},
			}},
		},
		{
			name: "negated group key",
			key:  "not.or", raw: "(a.is.true,b.not.like.x*)",
			want: Not{Child: Or{Children: []Node{
				Comparison{Path: []string{"a"}, Operator: OpIs, Value: "true"},
				Not{Child: Comparison{Path: []string{"b"}, Operator: OpLike, Value: "x%"}},
			}}},
		},
		{
			name: "embed scoped group",
			key:  "items.or", raw: "(qty.gt.5,price.lt.2)",
			want: Or{Children: []Node{
				Comparison{Path: []string{"items", "qty"}, Operator: OpGt, Value: "5"},
				Comparison{Path: []string{"items", "price"}, Operator: OpLt, Value: "2"},
			}},
		},
		{
			name: "single child group collapses",
			key:  "or", raw: "(a.eq.1)",
			want: Comparison{Path: []string{"a"}, Operator: OpEq, Value: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.key, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		raw  string
	}{
		{name: "unknown operator", key: "a", raw: "approx.1"},
		{name: "missing value", key: "a", raw: "eq"},
		{name: "bad is value", key: "a", raw: "is.maybe"},
		{name: "in without parens", key: "a", raw: "in.1,2"},
		{name: "unbalanced group", key: "or", raw: "(a.eq.1,and(b.eq.2)"},
		{name: "group without parens", key: "or", raw: "a.eq.1"},
		{name: "empty group", key: "and", raw: "()"},
		{name: "unterminated quote", key: "or", raw: `(a.eq."x,b.eq.2)`},
		{name: "language on non fts", key: "a", raw: "eq(english).x"},
		{name: "empty path segment", key: "a..b", raw: "eq.1"},
		{name: "malformed group item", key: "or", raw: "(justacolumn)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.key, tt.raw)
			require.Error(t, err)
			assert.True(t, apierror.HasCode(err, apierror.CodeFilterSyntax), "got %v", err)
		})
	}
}

func TestParseFilters_SortsByKey(t *testing.T) {
	got, err := ParseFilters([]Param{
		{Key: "price", Value: "lt.30"},
		{Key: "name", Value: "eq.x"},
	})
	require.NoError(t, err)
	assert.Equal(t, And{Children: []Node{
		Comparison{Path: []string{"name"}, Operator: OpEq, Value: "x"},
		Comparison{Path: []string{"price"}, Operator: OpLt, Value: "30"},
	}}, got)

	none, err := ParseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestIsLogicKey(t *testing.T) {
	assert.True(t, IsLogicKey("or"))
	assert.True(t, IsLogicKey("not.and"))
	assert.True(t, IsLogicKey("items.or"))
	assert.True(t, IsLogicKey("items.not.or"))
	assert.False(t, IsLogicKey("order"))
	assert.False(t, IsLogicKey("vendor"))
}

func TestPrefixScopesEmbedFilters(t *testing.T) {
	n, err := ParseFilter("or", "(qty.gt.5,price.in.(1,2))")
	require.NoError(t, err)

	prefixed := Prefix(n, []string{"orders", "items"})
	var paths [][]string
	Walk(prefixed, func(c Comparison) { paths = append(paths, c.Path) })
	assert.Equal(t, [][]string{{"orders", "items", "qty"}, {"orders", "items", "price"}}, paths)

	var cols []string
	Walk(prefixed, func(c Comparison) { cols = append(cols, c.Column()) })
	assert.Equal(t, []string{"qty", "price"}, cols)

	// The input tree is left untouched.
	Walk(n, func(c Comparison) { assert.Len(t, c.Path, 1) })
}
