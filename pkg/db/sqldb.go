// Package db provides concrete engine.Db implementations. SqlDb executes
// rendered rql statements against a relational database through sqlx.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// drivers registered for the dsn schemes the config layer supports
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lodeworks/lode/pkg/backends/sqlgen"
	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/observability"
	"github.com/lodeworks/lode/pkg/rql"
)

// SqlDb exposes a set of tables as engine collections and serves Select by
// rendering the statement for its dialect and executing it through sqlx.
type SqlDb struct {
	name    string
	db      *sqlx.DB
	dialect sqlgen.Dialect
	colls   []*engine.Collection

	maxRows int
	metrics *observability.Metrics
}

// Open connects to a database by driver name and dsn. The dialect follows the
// driver: "postgres" binds with $n, anything else with ?.
func Open(name, driver, dsn string) (*SqlDb, error) {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database %q: %w", driver, name, err)
	}
	return NewSqlDb(name, conn, dialectFor(driver)), nil
}

// NewSqlDb wraps an existing connection.
func NewSqlDb(name string, conn *sqlx.DB, dialect sqlgen.Dialect) *SqlDb {
	return &SqlDb{name: name, db: conn, dialect: dialect, maxRows: -1}
}

func dialectFor(driver string) sqlgen.Dialect {
	if driver == "postgres" {
		return sqlgen.Postgres
	}
	return sqlgen.SQLite
}

// WithCollection maps a routable collection name onto a table.
func (d *SqlDb) WithCollection(name, table string) *SqlDb {
	d.colls = append(d.colls, &engine.Collection{Name: name, Table: table})
	return d
}

// WithCollectionQuery maps a collection whose reads start from a pre-authored
// base statement. ${name} placeholders in query resolve from request params
// at read time.
func (d *SqlDb) WithCollectionQuery(name, table, query string) *SqlDb {
	d.colls = append(d.colls, &engine.Collection{Name: name, Table: table, Query: query})
	return d
}

// WithMaxRows caps the row window of every select, overriding larger caller
// limits.
func (d *SqlDb) WithMaxRows(n int) *SqlDb {
	d.maxRows = n
	return d
}

// WithMetrics attaches backend query instrumentation.
func (d *SqlDb) WithMetrics(m *observability.Metrics) *SqlDb {
	d.metrics = m
	return d
}

// MaxRows returns the configured row cap, -1 when uncapped.
func (d *SqlDb) MaxRows() int { return d.maxRows }

// DB exposes the raw connection pool for health checks.
func (d *SqlDb) DB() *sql.DB { return d.db.DB }

// Name implements engine.Db.
func (d *SqlDb) Name() string { return d.name }

// Collections implements engine.Db.
func (d *SqlDb) Collections() []*engine.Collection { return d.colls }

// Close releases the underlying connection pool.
func (d *SqlDb) Close() error { return d.db.Close() }

// Select implements engine.Db: renders stmt against the collection's table
// and returns the rows as generic maps.
func (d *SqlDb) Select(ctx context.Context, coll *engine.Collection, stmt *rql.Stmt) ([]map[string]interface{}, error) {
	if d.maxRows >= 0 && (stmt.MaxRows < 0 || stmt.MaxRows > d.maxRows) {
		stmt.MaxRows = d.maxRows
	}

	q, err := sqlgen.Select(d.dialect, coll.Table, stmt)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := d.db.QueryxContext(ctx, q.SQL, q.Args...)
	if d.metrics != nil {
		d.metrics.ObserveBackendQuery(d.name, coll.Name, err, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("selecting from %s.%s: %w", d.name, coll.Name, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row from %s.%s: %w", d.name, coll.Name, err)
		}
		for k, v := range row {
			// drivers hand text columns back as raw bytes
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows from %s.%s: %w", d.name, coll.Name, err)
	}
	return out, nil
}
