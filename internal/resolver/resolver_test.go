package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/dbexec"
	"pgrest/internal/engine"
	"pgrest/internal/filter"
	"pgrest/internal/schemacache"
	"pgrest/internal/testutil"
)

type fakeRunner struct {
	reqs []*apirequest.Request
	body string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, _ *schemacache.Cache, req *apirequest.Request, _ engine.Identity) (*engine.Outcome, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Outcome{Result: &dbexec.Result{Body: []byte(f.body)}}, nil
}

func buildSchema(t *testing.T, runner Runner) graphql.Schema {
	t.Helper()
	r := NewResolver(testutil.ShopCache(), Config{
		Runner:   runner,
		Identity: func(context.Context) engine.Identity { return engine.Identity{Role: "web_anon", Anonymous: true} },
	})
	schema, err := r.BuildGraphQLSchema()
	require.NoError(t, err)
	return schema
}

func execute(t *testing.T, schema graphql.Schema, query string, vars map[string]interface{}) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        t.Context(),
	})
}

func TestBuildGraphQLSchema_Fields(t *testing.T) {
	schema := buildSchema(t, &fakeRunner{})

	query := schema.QueryType().Fields()
	for _, name := range []string{"products", "customers", "users", "orders", "orderItems", "orderSummary"} {
		assert.Contains(t, query, name)
	}

	mutation := schema.MutationType().Fields()
	assert.Contains(t, mutation, "insertProducts")
	assert.Contains(t, mutation, "updateOrders")
	assert.Contains(t, mutation, "deleteOrderItems")
	assert.NotContains(t, mutation, "insertOrderSummary")

	orders := schema.Type("Orders").(*graphql.Object).Fields()
	for _, name := range []string{"id", "customerId", "createdAt", "customer", "buyer", "seller", "orderItems", "orderItemsRel"} {
		assert.Contains(t, orders, name)
	}
	assert.Equal(t, "Decimal", orders["total"].Type.(*graphql.NonNull).OfType.Name())

	users := schema.Type("Users").(*graphql.Object).Fields()
	assert.Contains(t, users, "buyerOrders")
	assert.Contains(t, users, "sellerOrders")

	filterType := schema.Type("ProductsFilter").(*graphql.InputObject).Fields()
	assert.Contains(t, filterType, "and")
	assert.Contains(t, filterType, "price")
}

func TestBuildGraphQLSchema_SelfReferencingKey(t *testing.T) {
	employees := schemacache.QualifiedName{Schema: "public", Name: "employees"}
	cache := schemacache.Build([]string{"public"}, []*schemacache.Table{{
		Schema: "public", Name: "employees", PrimaryKey: []string{"id"},
		Columns: []schemacache.Column{
			{Name: "id", DataType: "integer", OrdinalPosition: 1},
			{Name: "manager_id", DataType: "integer", Nullable: true, OrdinalPosition: 2},
		},
	}}, []schemacache.ForeignKey{{
		Constraint: "employees_manager_id_fkey",
		Table:      employees, Columns: []string{"manager_id"},
		Referenced: employees, ReferencedColumns: []string{"id"},
	}}, nil)

	runner := &fakeRunner{body: `[]`}
	schema, err := NewResolver(cache, Config{
		Runner:   runner,
		Identity: func(context.Context) engine.Identity { return engine.Identity{Role: "web_anon", Anonymous: true} },
	}).BuildGraphQLSchema()
	require.NoError(t, err)

	fields := schema.Type("Employees").(*graphql.Object).Fields()
	require.Contains(t, fields, "manager")
	require.Contains(t, fields, "managerEmployees")

	result := execute(t, schema, `{ employees { id manager { id } managerEmployees { id } } }`, nil)
	require.Empty(t, result.Errors)
	require.Len(t, runner.reqs, 1)
	sel := runner.reqs[0].Select
	require.Len(t, sel, 3)
	assert.Equal(t, "manager_id", sel[1].Hint)
	assert.Equal(t, "id", sel[2].Hint)
}

func TestQuery_TranslatesSelectionTree(t *testing.T) {
	runner := &fakeRunner{body: `[{"id":1,"customer":{"name":"Ann"},"orderItems":[{"qty":2}]}]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `{
		orders(filter: {total: {gte: "10"}}, orderBy: [{createdAt: DESC_NULLS_LAST}], limit: 5) {
			id
			customer { name }
			orderItems(filter: {qty: {gt: 1}}, limit: 2) { qty }
		}
	}`, nil)
	require.Empty(t, result.Errors)

	require.Len(t, runner.reqs, 1)
	req := runner.reqs[0]
	assert.Equal(t, apirequest.ActionRead, req.Action)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "orders", req.Resource)
	assert.Equal(t, "public", req.Schema)

	require.Len(t, req.Select, 3)
	assert.Equal(t, apirequest.SelectItem{Kind: apirequest.SelectColumn, Name: "id"}, req.Select[0])
	assert.Equal(t, "customers", req.Select[1].Name)
	assert.Equal(t, "customer", req.Select[1].Alias)
	assert.Equal(t, "orders_customer_id_fkey", req.Select[1].Hint)
	assert.Equal(t, "order_items", req.Select[2].Name)
	assert.Equal(t, "orderItems", req.Select[2].Alias)

	assert.Equal(t, []apirequest.OrderTerm{{Column: "created_at", Descending: true, Nulls: apirequest.NullsLast}}, req.Order)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 5, *req.Limit)
	require.Contains(t, req.Embeds, "orderItems")
	assert.Equal(t, 2, *req.Embeds["orderItems"].Limit)

	assert.Equal(t, filter.And{Children: []filter.Node{
		filter.Comparison{Path: []string{"orderItems", "qty"}, Operator: filter.OpGt, Value: "1"},
		filter.Comparison{Path: []string{"total"}, Operator: filter.OpGte, Value: "10"},
	}}, req.Where)

	data := result.Data.(map[string]interface{})
	rows := data["orders"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, 1, row["id"])
	assert.Equal(t, "Ann", row["customer"].(map[string]interface{})["name"])
}

func TestQuery_AliasesAndVariables(t *testing.T) {
	runner := &fakeRunner{body: `[{"cheap":"Bolt","id":1}]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `query($max: Int!, $n: NonNegativeInt) {
		products(filter: {price: {lt: $max}}, limit: $n) { cheap: name ...ids }
	}
	fragment ids on Products { id __typename }`, map[string]interface{}{"max": 30, "n": 3})
	require.Empty(t, result.Errors)

	req := runner.reqs[0]
	assert.Equal(t, []apirequest.SelectItem{
		{Kind: apirequest.SelectColumn, Name: "name", Alias: "cheap"},
		{Kind: apirequest.SelectColumn, Name: "id"},
	}, req.Select)
	assert.Equal(t, filter.Comparison{Path: []string{"price"}, Operator: filter.OpLt, Value: "30"}, req.Where)
	assert.Equal(t, 3, *req.Limit)

	row := result.Data.(map[string]interface{})["products"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Bolt", row["cheap"])
	assert.Equal(t, "Products", row["__typename"])
}

func TestQuery_RepeatedEmbedKeysAreRenamed(t *testing.T) {
	runner := &fakeRunner{body: `[{"orders":[{"customer":{"orders_2":[{"id":7}]}}]}]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `{ customers { orders { customer { orders { id } } } } }`, nil)
	require.Empty(t, result.Errors)

	inner := runner.reqs[0].Select[0].Children[0].Children[0]
	assert.Equal(t, "orders_2", inner.Alias)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"customers":[{"orders":[{"customer":{"orders":[{"id":7}]}}]}]}`, string(raw))
}

func TestQuery_ErrorExtensions(t *testing.T) {
	runner := &fakeRunner{err: apierror.TableNotFound("public", "products")}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `{ products { id } }`, nil)
	require.Len(t, result.Errors, 1)
	ext := result.Errors[0].Extensions
	assert.Equal(t, apierror.CodeTableNotFound, ext["code"])
	assert.Equal(t, http.StatusNotFound, ext["status"])
	assert.NotNil(t, ext["hint"])
	assert.Nil(t, ext["details"])
}

func TestMutation_Insert(t *testing.T) {
	runner := &fakeRunner{body: `[{"id":41,"name":"Widget","price":19}]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `mutation {
		insertProducts(objects: [{name: "Widget", price: 3, tags: "[\"a\"]"}]) { id name }
	}`, nil)
	require.Empty(t, result.Errors)

	req := runner.reqs[0]
	assert.Equal(t, apirequest.ActionInsert, req.Action)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, apirequest.ReturnRepresentation, req.Preferences.Return)
	require.NotNil(t, req.Payload)
	assert.True(t, req.Payload.IsArray)
	assert.Equal(t, []string{"name", "price", "tags"}, req.Payload.Keys)
	assert.Equal(t, json.Number("3"), req.Payload.Rows[0]["price"])
	assert.Equal(t, []interface{}{"a"}, req.Payload.Rows[0]["tags"])

	row := result.Data.(map[string]interface{})["insertProducts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 41, row["id"])
}

func TestMutation_Upsert(t *testing.T) {
	runner := &fakeRunner{body: `[]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `mutation {
		insertProducts(objects: [{sku: "B-1", name: "Bolt", price: 1}], onConflict: ["sku"]) { id }
	}`, nil)
	require.Empty(t, result.Errors)

	req := runner.reqs[0]
	assert.Equal(t, apirequest.ActionUpsert, req.Action)
	assert.Equal(t, apirequest.ResolutionMergeDuplicates, req.Preferences.Resolution)
	assert.Equal(t, []string{"sku"}, req.OnConflict)
}

func TestMutation_UpdateAndDelete(t *testing.T) {
	runner := &fakeRunner{body: `[{"id":1}]`}
	schema := buildSchema(t, runner)

	result := execute(t, schema, `mutation {
		updateOrders(filter: {id: {eq: 1}}, set: {buyerId: 4}) { id }
		deleteOrders(filter: {status: {in: ["pending"]}}) { id }
	}`, nil)
	require.Empty(t, result.Errors)
	require.Len(t, runner.reqs, 2)

	update := runner.reqs[0]
	assert.Equal(t, apirequest.ActionUpdate, update.Action)
	assert.Equal(t, http.MethodPatch, update.Method)
	assert.False(t, update.Payload.IsArray)
	assert.Equal(t, json.Number("4"), update.Payload.Rows[0]["buyer_id"])
	assert.Equal(t, filter.Comparison{Path: []string{"id"}, Operator: filter.OpEq, Value: "1"}, update.Where)

	del := runner.reqs[1]
	assert.Equal(t, apirequest.ActionDelete, del.Action)
	assert.Nil(t, del.Payload)
	assert.Equal(t, filter.Comparison{Path: []string{"status"}, Operator: filter.OpIn, Values: []string{"pending"}}, del.Where)
}

func TestQuery_ThroughEngine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	eng := engine.New(engine.Config{Executor: dbexec.NewExecutor(dbexec.Config{DB: db})})
	schema := buildSchema(t, eng)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('role'`).
		WithArgs("web_anon", "GET", "/graphql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`WHERE "products"."price" < \$1 ORDER BY "products"."price" DESC`).
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"total_result_set", "page_total", "body"}).
			AddRow(nil, 1, `[{"id":2,"price":20}]`))
	mock.ExpectCommit()

	result := execute(t, schema, `{ products(filter: {price: {lt: 30}}, orderBy: [{price: DESC}]) { id price } }`, nil)
	require.Empty(t, result.Errors)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"products":[{"id":2,"price":20}]}`, string(raw))
	assert.NoError(t, mock.ExpectationsWereMet())
}
