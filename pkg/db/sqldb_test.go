package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/pkg/backends/sqlgen"
	"github.com/lodeworks/lode/pkg/rql"
)

func newMockDb(t *testing.T) (*SqlDb, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	d := NewSqlDb("bookdb", sqlx.NewDb(conn, "sqlmock"), sqlgen.SQLite).
		WithCollection("books", "books")
	return d, mock
}

func TestSelectRendersAndScans(t *testing.T) {
	d, mock := newMockDb(t)

	mock.ExpectQuery(`SELECT \* FROM "books" WHERE "author" = \?`).
		WithArgs("orwell").
		WillReturnRows(sqlmock.NewRows([]string{"title", "year"}).
			AddRow([]byte("1984"), 1949).
			AddRow([]byte("Animal Farm"), 1945))

	stmt, err := rql.BuildStmt(map[string]string{"q": "eq(author,'orwell')"})
	require.NoError(t, err)

	coll := d.Collections()[0]
	rows, err := d.Select(context.Background(), coll, stmt)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1984", rows[0]["title"], "byte columns come back as strings")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectAppliesMaxRows(t *testing.T) {
	d, mock := newMockDb(t)
	d.WithMaxRows(50)

	mock.ExpectQuery(`SELECT \* FROM "books" LIMIT 50`).
		WillReturnRows(sqlmock.NewRows([]string{"title"}))

	stmt, err := rql.BuildStmt(map[string]string{"limit": "5000"})
	require.NoError(t, err)

	_, err = d.Select(context.Background(), d.Collections()[0], stmt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectSurfacesRenderErrors(t *testing.T) {
	d, _ := newMockDb(t)

	stmt, err := rql.BuildStmt(map[string]string{"q": "miles(location,'1,2',5)"})
	require.NoError(t, err)

	_, err = d.Select(context.Background(), d.Collections()[0], stmt)
	require.Error(t, err)
	var re *sqlgen.RenderError
	assert.ErrorAs(t, err, &re)
}

func TestDialectFollowsDriver(t *testing.T) {
	assert.Equal(t, "postgres", dialectFor("postgres").Name)
	assert.Equal(t, "sqlite", dialectFor("sqlite3").Name)
}
