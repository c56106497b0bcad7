package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/filter"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
	"pgrest/internal/testutil"
)

func mutateInput(t *testing.T, action apirequest.Action, table, query, body string) MutateInput {
	t.Helper()
	tbl, err := testutil.ShopCache().LookupTable("public", table)
	require.NoError(t, err)
	in := MutateInput{Action: action, Table: tbl, Returning: resolve(t, table, query)}
	if body != "" {
		in.Payload = payload(t, body)
	}
	return in
}

func TestPlanMutate_Insert(t *testing.T) {
	in := mutateInput(t, apirequest.ActionInsert, "orders", "",
		`[{"total": "10.50", "customer_id": 1}, {"total": 3, "customer_id": null}]`)
	plan, err := PlanMutate(in)
	require.NoError(t, err)

	assert.Equal(t, OpInsert, plan.Operation)
	assert.False(t, plan.Upsert())
	assert.Equal(t, []string{"customer_id", "total"}, plan.Columns)
	assert.Equal(t, [][]Value{
		{{Value: int64(1)}, {Value: "10.50"}},
		{{Value: nil}, {Value: "3"}},
	}, plan.Rows)
	assert.Nil(t, plan.Where)
}

func TestPlanMutate_MissingDefault(t *testing.T) {
	in := mutateInput(t, apirequest.ActionInsert, "orders", "",
		`[{"total": 1}, {"total": 2, "status": "shipped"}]`)
	in.Prefs.MissingDefault = true
	plan, err := PlanMutate(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "total"}, plan.Columns)
	assert.Equal(t, Value{Default: true}, plan.Rows[0][0])
	assert.Equal(t, Value{Value: "shipped"}, plan.Rows[1][0])
}

func TestPlanMutate_UpsertTarget(t *testing.T) {
	tests := []struct {
		name       string
		onConflict []string
		body       string
		want       []string
		wantCode   string
	}{
		{name: "primary key covered", body: `{"id": 1, "name": "a", "price": 2}`, want: []string{"id"}},
		{name: "unique key covered", body: `{"sku": "x", "name": "a", "price": 2}`, want: []string{"sku"}},
		{name: "explicit on_conflict", onConflict: []string{"sku"}, body: `{"id": 1, "sku": "x", "name": "a", "price": 2}`, want: []string{"sku"}},
		{name: "no key covered", body: `{"name": "a", "price": 2}`, wantCode: apierror.CodeNoUpsertTarget},
		{name: "on_conflict not a key", onConflict: []string{"name"}, body: `{"name": "a", "price": 2}`, wantCode: apierror.CodeNoUpsertTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mutateInput(t, apirequest.ActionUpsert, "products", "", tt.body)
			in.OnConflict = tt.onConflict
			plan, err := PlanMutate(in)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Nil(t, plan)
				assert.True(t, apierror.HasCode(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, plan.Upsert())
			assert.Equal(t, apirequest.ResolutionMergeDuplicates, plan.Resolution)
			assert.Equal(t, tt.want, plan.ConflictColumns)
		})
	}
}

func TestPlanMutate_IgnoreDuplicatesOnPost(t *testing.T) {
	in := mutateInput(t, apirequest.ActionInsert, "products", "", `{"id": 1, "name": "a", "price": 2}`)
	in.Prefs.Resolution = apirequest.ResolutionIgnoreDuplicates
	plan, err := PlanMutate(in)
	require.NoError(t, err)
	assert.Equal(t, apirequest.ResolutionIgnoreDuplicates, plan.Resolution)
	assert.Equal(t, []string{"id"}, plan.ConflictColumns)
}

func TestPlanMutate_UpdateAndDelete(t *testing.T) {
	update, err := PlanMutate(mutateInput(t, apirequest.ActionUpdate, "products", "id=eq.7", `{"price": 12}`))
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, update.Operation)
	assert.Equal(t, Compare{Column: "id", Category: sqltype.CategoryInteger, Operator: filter.OpEq, Value: int64(7)}, update.Where)
	assert.Nil(t, update.Returning.Where)

	del, err := PlanMutate(mutateInput(t, apirequest.ActionDelete, "products", "price=gt.100", ""))
	require.NoError(t, err)
	assert.Equal(t, OpDelete, del.Operation)
	assert.NotNil(t, del.Where)
	assert.Empty(t, del.Rows)
}

func TestPlanMutate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		action   apirequest.Action
		table    string
		query    string
		body     string
		wantCode string
	}{
		{name: "view not insertable", action: apirequest.ActionInsert, table: "order_summary", body: `{"id": 1}`, wantCode: apierror.CodeNotInsertable},
		{name: "view not updatable", action: apirequest.ActionUpdate, table: "order_summary", body: `{"id": 1}`, wantCode: apierror.CodeNotUpdatable},
		{name: "view not deletable", action: apirequest.ActionDelete, table: "order_summary", wantCode: apierror.CodeNotDeletable},
		{name: "empty body", action: apirequest.ActionInsert, table: "customers", body: `[]`, wantCode: apierror.CodeInvalidBody},
		{name: "unknown key", action: apirequest.ActionInsert, table: "customers", body: `{"name": "a", "bogus": 1}`, wantCode: apierror.CodeUnknownColumn},
		{name: "inconsistent keys", action: apirequest.ActionInsert, table: "customers", body: `[{"name": "a"}, {"name": "b", "email": "x"}]`, wantCode: apierror.CodeInconsistentColumn},
		{name: "missing required", action: apirequest.ActionInsert, table: "orders", body: `{"customer_id": 1}`, wantCode: apierror.CodeMissingColumns},
		{name: "bad value", action: apirequest.ActionInsert, table: "products", body: `{"name": "a", "price": "cheap"}`, wantCode: apierror.CodeInvalidBody},
		{name: "update many rows", action: apirequest.ActionUpdate, table: "products", body: `[{"price": 1}, {"price": 2}]`, wantCode: apierror.CodeInvalidBody},
		{name: "embedded filter", action: apirequest.ActionDelete, table: "orders", query: "select=id,customers(name)&customers.name=eq.x", wantCode: apierror.CodeFilterSyntax},
		{name: "read action", action: apirequest.ActionRead, table: "orders", wantCode: apierror.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanMutate(mutateInput(t, tt.action, tt.table, tt.query, tt.body))
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, apierror.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestPlanMutate_ReturningKeepsEmbeds(t *testing.T) {
	plan, err := PlanMutate(mutateInput(t, apirequest.ActionInsert, "orders", "select=id,customers(name)", `{"total": 1}`))
	require.NoError(t, err)
	require.Len(t, plan.Returning.Children, 1)
	assert.Equal(t, schemacache.ManyToOne, plan.Returning.Children[0].Child.Relationship.Cardinality)
}
