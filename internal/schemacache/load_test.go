package schemacache

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`pg_relation_is_updatable`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname", "relname", "is_view", "insertable", "updatable", "deletable"}).
			AddRow("public", "authors", false, true, true, true).
			AddRow("public", "books", false, true, true, true).
			AddRow("public", "book_titles", true, false, false, false))

	mock.ExpectQuery(`FROM pg_catalog\.pg_attribute a`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname", "relname", "attname", "attnum", "data_type", "nullable", "has_default", "enum_values"}).
			AddRow("public", "authors", "id", 1, "integer", false, true, "[]").
			AddRow("public", "authors", "name", 2, "text", false, false, "[]").
			AddRow("public", "books", "id", 1, "integer", false, true, "[]").
			AddRow("public", "books", "author_id", 2, "integer", true, false, "[]").
			AddRow("public", "books", "genre", 3, "genre", true, false, `["fiction","poetry"]`).
			AddRow("public", "book_titles", "title", 1, "text", true, false, "[]"))

	mock.ExpectQuery(`FROM pg_catalog\.pg_index i`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname", "relname", "indisprimary", "columns"}).
			AddRow("public", "authors", true, `["id"]`).
			AddRow("public", "books", true, `["id"]`))

	mock.ExpectQuery(`FROM pg_catalog\.pg_constraint con`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "nspname", "relname", "fnspname", "frelname", "columns", "referenced_columns"}).
			AddRow("books_author_id_fkey", "public", "books", "public", "authors", `["author_id"]`, `["id"]`))

	mock.ExpectQuery(`FROM pg_catalog\.pg_proc p`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname", "proname", "provolatile", "proretset", "return_type", "pronargdefaults", "parameters"}).
			AddRow("public", "search_books", "s", true, "books", 1,
				`[{"name":"q","type":"text"},{"name":"max","type":"integer"}]`).
			AddRow("public", "search_books", "v", false, "integer", 0, `[]`))
}

func TestLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	expectCatalog(mock)

	cache, err := Load(t.Context(), db, []string{"public"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	books, err := cache.LookupTable("public", "books")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, books.PrimaryKey)
	assert.Equal(t, []string{"id", "author_id", "genre"}, books.ColumnNames())
	genre, ok := books.Column("genre")
	require.True(t, ok)
	assert.Equal(t, []string{"fiction", "poetry"}, genre.EnumValues)
	assert.Equal(t, "text", genre.Category().String())

	view, err := cache.LookupTable("public", "book_titles")
	require.NoError(t, err)
	assert.True(t, view.IsView)
	assert.False(t, view.Insertable)

	authors, _ := cache.LookupTable("public", "authors")
	rel, err := cache.FindRelationship(authors, "books", "")
	require.NoError(t, err)
	assert.Equal(t, OneToMany, rel.Cardinality)
	assert.Equal(t, []string{"author_id"}, rel.TargetColumns)

	routine, err := cache.LookupRoutine("public", "search_books")
	require.NoError(t, err)
	assert.True(t, routine.IsSetReturning)
	assert.Equal(t, Stable, routine.Volatility)
	require.Len(t, routine.Parameters, 2)
	assert.False(t, routine.Parameters[0].HasDefault)
	assert.True(t, routine.Parameters[1].HasDefault)
}

func TestLoad_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	boom := errors.New("permission denied for table pg_class")
	mock.ExpectQuery(`pg_relation_is_updatable`).WithArgs("public").WillReturnError(boom)
	mock.ExpectQuery(`FROM pg_catalog\.pg_attribute a`).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname"}))
	mock.ExpectQuery(`FROM pg_catalog\.pg_index i`).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname"}))
	mock.ExpectQuery(`FROM pg_catalog\.pg_constraint con`).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"conname"}))
	mock.ExpectQuery(`FROM pg_catalog\.pg_proc p`).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"nspname"}))

	_, err = Load(t.Context(), db, []string{"public"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestLoad_NoSchemas(t *testing.T) {
	_, err := Load(t.Context(), nil, nil)
	require.Error(t, err)
}

func TestSchemaPredicate(t *testing.T) {
	query, args, err := schemaPredicate("SELECT 1 WHERE %s", "n.nspname", []string{"api", "public"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 WHERE n.nspname IN ($1,$2)", query)
	assert.Equal(t, []interface{}{"api", "public"}, args)
}
