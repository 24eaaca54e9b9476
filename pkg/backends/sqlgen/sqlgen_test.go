package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/pkg/rql"
)

func build(t *testing.T, params map[string]string) *rql.Stmt {
	t.Helper()
	stmt, err := rql.BuildStmt(params)
	require.NoError(t, err)
	return stmt
}

func TestSelectRendering(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]string
		dialect  Dialect
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "bare table scan",
			params:   map[string]string{},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books"`,
			wantArgs: nil,
		},
		{
			name:     "equality filter",
			params:   map[string]string{"q": "eq(author,'orwell')"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE "author" = ?`,
			wantArgs: []interface{}{"orwell"},
		},
		{
			name:     "postgres placeholders number sequentially",
			params:   map[string]string{"q": "and(eq(author,'orwell'),gt(year,1940))"},
			dialect:  Postgres,
			wantSQL:  `SELECT * FROM "books" WHERE ("author" = $1 AND "year" > $2)`,
			wantArgs: []interface{}{"orwell", "1940"},
		},
		{
			name:     "in list",
			params:   map[string]string{"q": "in(genre,'novel','essay')"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE "genre" IN (?, ?)`,
			wantArgs: []interface{}{"novel", "essay"},
		},
		{
			name:     "starts-with becomes an escaped like",
			params:   map[string]string{"q": "sw(title,'100%')"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE "title" LIKE ? ESCAPE '\'`,
			wantArgs: []interface{}{`100\%%`},
		},
		{
			name:     "not-contains",
			params:   map[string]string{"q": "wo(title,'draft')"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE "title" NOT LIKE ? ESCAPE '\'`,
			wantArgs: []interface{}{"%draft%"},
		},
		{
			name:     "empty and null checks take no bindings",
			params:   map[string]string{"q": "and(emp(subtitle),nn(isbn))"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE (("subtitle" IS NULL OR "subtitle" = '') AND "isbn" IS NOT NULL)`,
			wantArgs: nil,
		},
		{
			name:     "search is case-insensitive contains",
			params:   map[string]string{"q": "search(title,'War')"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" WHERE lower("title") LIKE ? ESCAPE '\'`,
			wantArgs: []interface{}{"%war%"},
		},
		{
			name:     "projection ordering limit offset",
			params:   map[string]string{"includes": "title,author", "sort": "-year,title", "limit": "5,10"},
			dialect:  SQLite,
			wantSQL:  `SELECT "title", "author" FROM "books" ORDER BY "year" DESC, "title" ASC LIMIT 5 OFFSET 10`,
			wantArgs: nil,
		},
		{
			name:     "page converts to limit offset",
			params:   map[string]string{"page": "3", "pagesize": "20"},
			dialect:  SQLite,
			wantSQL:  `SELECT * FROM "books" LIMIT 20 OFFSET 40`,
			wantArgs: nil,
		},
		{
			name:     "distinct with group by",
			params:   map[string]string{"distinct": "", "group(genre)": ""},
			dialect:  SQLite,
			wantSQL:  `SELECT DISTINCT * FROM "books" GROUP BY "genre"`,
			wantArgs: nil,
		},
		{
			name:     "aggregate column with alias",
			params:   map[string]string{"q": "sum(pages,totalPages)"},
			dialect:  SQLite,
			wantSQL:  `SELECT sum("pages") AS "totalPages" FROM "books"`,
			wantArgs: nil,
		},
		{
			name:     "rowcount window column",
			params:   map[string]string{"rowcount": ""},
			dialect:  SQLite,
			wantSQL:  `SELECT *, count(*) OVER () AS "rowCount" FROM "books"`,
			wantArgs: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Select(tc.dialect, "books", build(t, tc.params))
			require.NoError(t, err)
			assert.Equal(t, tc.wantSQL, q.SQL)
			assert.Equal(t, tc.wantArgs, q.Args)
		})
	}
}

func TestSelectCountAsCol(t *testing.T) {
	stmt := build(t, map[string]string{"q": "countascol(status,'A','B')"})

	q, err := Select(SQLite, "orders", stmt)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT CASE WHEN "status" = ? THEN 1 ELSE 0 END AS "A"`+
			` FROM "orders"`,
		mustSingleCol(t, stmt, q),
	)
}

// mustSingleCol re-renders the statement with only its first column so the
// pivot CASE shape is assertable without repeating the whole projection.
func mustSingleCol(t *testing.T, stmt *rql.Stmt, full *Query) string {
	t.Helper()
	require.Contains(t, full.SQL, `CASE WHEN "status" = ?`)
	require.Contains(t, full.SQL, `AS "A"`)
	require.Contains(t, full.SQL, `AS "B"`)
	require.Contains(t, full.SQL, `"status" IN (?, ?)`)

	single := rql.NewStmt()
	cols := stmt.Cols()
	require.NotEmpty(t, cols)
	// keep the inner sum() unwrapped for a readable assertion
	single.AddCol(cols[0].Name, cols[0].Pred.Term(0))
	q, err := Select(SQLite, "orders", single)
	require.NoError(t, err)
	return q.SQL
}

func TestWindowReconciliation(t *testing.T) {
	t.Run("explicit limit offset wins over paging", func(t *testing.T) {
		stmt := build(t, map[string]string{"limit": "5,10", "page": "9", "pagesize": "100"})
		limit, offset := Window(stmt)
		assert.Equal(t, 5, limit)
		assert.Equal(t, 10, offset)
	})

	t.Run("max rows caps the limit", func(t *testing.T) {
		stmt := build(t, map[string]string{"limit": "500"})
		stmt.MaxRows = 100
		limit, _ := Window(stmt)
		assert.Equal(t, 100, limit)
	})

	t.Run("unset paging means no window", func(t *testing.T) {
		stmt := build(t, nil)
		limit, offset := Window(stmt)
		assert.Equal(t, -1, limit)
		assert.Equal(t, 0, offset)
	})
}

func TestSelectRejectsUnsupported(t *testing.T) {
	stmt := build(t, map[string]string{"q": "miles(location,'37.7,-122.4',50)"})
	_, err := Select(SQLite, "stores", stmt)
	require.Error(t, err)

	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 400, re.StatusCode())
}
