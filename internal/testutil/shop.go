// Package testutil provides schema fixtures shared by package tests.
package testutil

import "pgrest/internal/schemacache"

func qn(name string) schemacache.QualifiedName {
	return schemacache.QualifiedName{Schema: "public", Name: name}
}

// ShopCache returns a small storefront schema:
//
//	products(id, name, price, sku unique, tags text[], description, search tsvector)
//	customers(id, name, email)
//	users(id, name)
//	orders(id, customer_id -> customers, buyer_id -> users, seller_id -> users, total, status, created_at)
//	order_items(order_id -> orders, product_id -> products, qty) primary key (order_id, product_id)
//	order_summary view
//
// plus the routines add(a, b default), cheap_products(max_price) and touch().
func ShopCache() *schemacache.Cache {
	tables := []*schemacache.Table{
		{
			Schema: "public", Name: "products", PrimaryKey: []string{"id"},
			UniqueKeys: [][]string{{"id"}, {"sku"}},
			Columns: []schemacache.Column{
				{Name: "id", DataType: "integer", HasDefault: true, OrdinalPosition: 1},
				{Name: "name", DataType: "text", OrdinalPosition: 2},
				{Name: "price", DataType: "integer", OrdinalPosition: 3},
				{Name: "sku", DataType: "text", Nullable: true, OrdinalPosition: 4},
				{Name: "tags", DataType: "text[]", Nullable: true, OrdinalPosition: 5},
				{Name: "description", DataType: "text", Nullable: true, OrdinalPosition: 6},
				{Name: "search", DataType: "tsvector", Nullable: true, OrdinalPosition: 7},
			},
			Insertable: true, Updatable: true, Deletable: true,
		},
		{
			Schema: "public", Name: "customers", PrimaryKey: []string{"id"},
			Columns: []schemacache.Column{
				{Name: "id", DataType: "integer", HasDefault: true, OrdinalPosition: 1},
				{Name: "name", DataType: "text", OrdinalPosition: 2},
				{Name: "email", DataType: "text", Nullable: true, OrdinalPosition: 3},
			},
			Insertable: true, Updatable: true, Deletable: true,
		},
		{
			Schema: "public", Name: "users", PrimaryKey: []string{"id"},
			Columns: []schemacache.Column{
				{Name: "id", DataType: "integer", HasDefault: true, OrdinalPosition: 1},
				{Name: "name", DataType: "text", OrdinalPosition: 2},
			},
			Insertable: true, Updatable: true, Deletable: true,
		},
		{
			Schema: "public", Name: "orders", PrimaryKey: []string{"id"},
			Columns: []schemacache.Column{
				{Name: "id", DataType: "integer", HasDefault: true, OrdinalPosition: 1},
				{Name: "customer_id", DataType: "integer", Nullable: true, OrdinalPosition: 2},
				{Name: "buyer_id", DataType: "integer", Nullable: true, OrdinalPosition: 3},
				{Name: "seller_id", DataType: "integer", Nullable: true, OrdinalPosition: 4},
				{Name: "total", DataType: "numeric(10,2)", OrdinalPosition: 5},
				{Name: "status", DataType: "order_status", HasDefault: true, OrdinalPosition: 6,
					EnumValues: []string{"pending", "shipped"}},
				{Name: "created_at", DataType: "timestamp with time zone", HasDefault: true, OrdinalPosition: 7},
			},
			Insertable: true, Updatable: true, Deletable: true,
		},
		{
			Schema: "public", Name: "order_items", PrimaryKey: []string{"order_id", "product_id"},
			Columns: []schemacache.Column{
				{Name: "order_id", DataType: "integer", OrdinalPosition: 1},
				{Name: "product_id", DataType: "integer", OrdinalPosition: 2},
				{Name: "qty", DataType: "integer", OrdinalPosition: 3},
			},
			Insertable: true, Updatable: true, Deletable: true,
		},
		{
			Schema: "public", Name: "order_summary", IsView: true,
			Columns: []schemacache.Column{
				{Name: "id", DataType: "integer", Nullable: true, OrdinalPosition: 1},
				{Name: "total", DataType: "numeric", Nullable: true, OrdinalPosition: 2},
			},
		},
	}
	fks := []schemacache.ForeignKey{
		{Constraint: "orders_customer_id_fkey", Table: qn("orders"), Columns: []string{"customer_id"}, Referenced: qn("customers"), ReferencedColumns: []string{"id"}},
		{Constraint: "orders_buyer_id_fkey", Table: qn("orders"), Columns: []string{"buyer_id"}, Referenced: qn("users"), ReferencedColumns: []string{"id"}},
		{Constraint: "orders_seller_id_fkey", Table: qn("orders"), Columns: []string{"seller_id"}, Referenced: qn("users"), ReferencedColumns: []string{"id"}},
		{Constraint: "order_items_order_id_fkey", Table: qn("order_items"), Columns: []string{"order_id"}, Referenced: qn("orders"), ReferencedColumns: []string{"id"}},
		{Constraint: "order_items_product_id_fkey", Table: qn("order_items"), Columns: []string{"product_id"}, Referenced: qn("products"), ReferencedColumns: []string{"id"}},
	}
	routines := []*schemacache.Routine{
		{
			Schema: "public", Name: "add", ReturnType: "integer", Volatility: schemacache.Immutable,
			Parameters: []schemacache.Parameter{{Name: "a", Type: "integer"}, {Name: "b", Type: "integer", HasDefault: true}},
		},
		{
			Schema: "public", Name: "cheap_products", ReturnType: "products", IsSetReturning: true, Volatility: schemacache.Stable,
			Parameters: []schemacache.Parameter{{Name: "max_price", Type: "integer"}},
		},
		{Schema: "public", Name: "touch", ReturnType: "void", Volatility: schemacache.Volatile},
	}
	return schemacache.Build([]string{"public"}, tables, fks, routines)
}
