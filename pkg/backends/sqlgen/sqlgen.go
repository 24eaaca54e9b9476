// Package sqlgen renders backend-agnostic rql statements into executable SQL
// for a concrete dialect. It only shapes strings and bind arguments; executing
// the result is the caller's concern.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lodeworks/lode/pkg/rql"
)

// Dialect captures the two things SQL engines disagree on that matter here:
// placeholder style and identifier quoting.
type Dialect struct {
	Name string

	// Placeholder returns the bind marker for 1-based position n.
	Placeholder func(n int) string

	// QuoteIdent quotes a column or table identifier.
	QuoteIdent func(ident string) string
}

// SQLite uses ? placeholders and double-quoted identifiers.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	QuoteIdent:  quoteDouble,
}

// Postgres uses $n placeholders and double-quoted identifiers.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	QuoteIdent:  quoteDouble,
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// RenderError reports a statement the dialect cannot express. It maps to a 400
// because the statement originates from the caller's query string.
type RenderError struct {
	Message string
}

func (e *RenderError) Error() string { return e.Message }

// StatusCode implements the status-bearing error contract.
func (e *RenderError) StatusCode() int { return 400 }

func renderErrorf(format string, args ...interface{}) error {
	return &RenderError{Message: fmt.Sprintf(format, args...)}
}

// Query is a rendered SQL statement plus its bind arguments, in placeholder
// order.
type Query struct {
	SQL  string
	Args []interface{}
}

// Select renders stmt as a SELECT against table.
func Select(d Dialect, table string, stmt *rql.Stmt) (*Query, error) {
	r := &renderer{d: d}

	var b strings.Builder
	b.WriteString("SELECT ")
	if stmt.Distinct {
		b.WriteString("DISTINCT ")
	}

	proj, err := r.projection(stmt)
	if err != nil {
		return nil, err
	}
	b.WriteString(proj)

	b.WriteString(" FROM ")
	b.WriteString(d.QuoteIdent(table))

	if len(stmt.Where) > 0 {
		b.WriteString(" WHERE ")
		for i, pred := range stmt.Where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			cond, err := r.condition(pred)
			if err != nil {
				return nil, err
			}
			b.WriteString(cond)
		}
	}

	if len(stmt.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, col := range stmt.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdent(col))
		}
	}

	if len(stmt.Order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, s := range stmt.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdent(s.Column))
			if s.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}

	limit, offset := Window(stmt)
	if limit >= 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}

	return &Query{SQL: b.String(), Args: r.args}, nil
}

// Window resolves the paging fields into a concrete limit/offset pair. The
// explicit limit/offset style wins when both styles appear; otherwise a
// 1-based page number and page size are converted. MaxRows caps the limit.
func Window(stmt *rql.Stmt) (limit, offset int) {
	limit, offset = stmt.Limit, stmt.Offset
	if limit < 0 && stmt.PageSize >= 0 {
		limit = stmt.PageSize
		if offset < 0 && stmt.PageNum > 0 {
			offset = (stmt.PageNum - 1) * stmt.PageSize
		}
	}
	if stmt.MaxRows >= 0 && (limit < 0 || limit > stmt.MaxRows) {
		limit = stmt.MaxRows
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type renderer struct {
	d    Dialect
	args []interface{}
}

// bind appends an argument and returns its placeholder.
func (r *renderer) bind(v interface{}) string {
	r.args = append(r.args, v)
	return r.d.Placeholder(len(r.args))
}

func (r *renderer) projection(stmt *rql.Stmt) (string, error) {
	cols := stmt.Cols()
	parts := make([]string, 0, len(cols)+2)

	if len(cols) == 0 {
		parts = append(parts, "*")
	}
	for _, col := range cols {
		if col.Pred == nil {
			parts = append(parts, r.d.QuoteIdent(col.Name))
			continue
		}
		expr, err := r.expr(col.Pred)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(col.Name, "$$$ANON") {
			parts = append(parts, expr)
		} else {
			parts = append(parts, expr+" AS "+r.d.QuoteIdent(col.Name))
		}
	}

	if stmt.RowCount != "" {
		parts = append(parts, "count(*) OVER () AS "+r.d.QuoteIdent(stmt.RowCount))
	}
	return strings.Join(parts, ", "), nil
}

// condition renders a boolean predicate.
func (r *renderer) condition(pred *rql.Predicate) (string, error) {
	tok := strings.ToLower(rql.Unquote(pred.Token))

	switch tok {
	case "and", "or":
		if len(pred.Terms) == 0 {
			return "", renderErrorf("%s requires at least one term", tok)
		}
		join := " AND "
		if tok == "or" {
			join = " OR "
		}
		parts := make([]string, 0, len(pred.Terms))
		for _, term := range pred.Terms {
			c, err := r.condition(term)
			if err != nil {
				return "", err
			}
			parts = append(parts, c)
		}
		return "(" + strings.Join(parts, join) + ")", nil

	case "eq", "ne", "lt", "le", "gt", "ge":
		col, val, err := r.colVal(pred, tok)
		if err != nil {
			return "", err
		}
		ops := map[string]string{"eq": "=", "ne": "<>", "lt": "<", "le": "<=", "gt": ">", "ge": ">="}
		return col + " " + ops[tok] + " " + r.bind(val), nil

	case "in", "out":
		if len(pred.Terms) < 2 {
			return "", renderErrorf("%s requires a column and at least one value", tok)
		}
		col, err := r.columnRef(pred.Term(0))
		if err != nil {
			return "", err
		}
		marks := make([]string, 0, len(pred.Terms)-1)
		for _, term := range pred.Terms[1:] {
			if !term.IsLeaf() {
				return "", renderErrorf("%s values must be literals", tok)
			}
			marks = append(marks, r.bind(term.Unquoted()))
		}
		op := " IN ("
		if tok == "out" {
			op = " NOT IN ("
		}
		return col + op + strings.Join(marks, ", ") + ")", nil

	case "sw", "ew", "w", "wo":
		col, val, err := r.colVal(pred, tok)
		if err != nil {
			return "", err
		}
		pattern := map[string]string{
			"sw": escapeLike(val) + "%",
			"ew": "%" + escapeLike(val),
			"w":  "%" + escapeLike(val) + "%",
			"wo": "%" + escapeLike(val) + "%",
		}[tok]
		not := ""
		if tok == "wo" {
			not = "NOT "
		}
		return col + " " + not + "LIKE " + r.bind(pattern) + " ESCAPE '\\'", nil

	case "search":
		col, val, err := r.colVal(pred, tok)
		if err != nil {
			return "", err
		}
		return "lower(" + col + ") LIKE " + r.bind("%"+strings.ToLower(escapeLike(val))+"%") + " ESCAPE '\\'", nil

	case "emp":
		col, err := r.singleColumn(pred, tok)
		if err != nil {
			return "", err
		}
		return "(" + col + " IS NULL OR " + col + " = '')", nil

	case "nemp":
		col, err := r.singleColumn(pred, tok)
		if err != nil {
			return "", err
		}
		return "(" + col + " IS NOT NULL AND " + col + " <> '')", nil

	case "n":
		col, err := r.singleColumn(pred, tok)
		if err != nil {
			return "", err
		}
		return col + " IS NULL", nil

	case "nn":
		col, err := r.singleColumn(pred, tok)
		if err != nil {
			return "", err
		}
		return col + " IS NOT NULL", nil

	case "miles":
		return "", renderErrorf("miles is not supported by the %s backend", r.d.Name)
	}

	return "", renderErrorf("unsupported conditional %q", pred.Token)
}

// expr renders a value expression (computed column).
func (r *renderer) expr(pred *rql.Predicate) (string, error) {
	if pred.IsLeaf() {
		if pred.IsQuoted() {
			return r.bind(pred.Unquoted()), nil
		}
		if _, err := strconv.ParseFloat(pred.Token, 64); err == nil {
			return pred.Token, nil
		}
		return r.d.QuoteIdent(pred.Token), nil
	}

	tok := strings.ToLower(rql.Unquote(pred.Token))
	switch tok {
	case "sum", "count", "min", "max", "avg":
		if len(pred.Terms) != 1 {
			return "", renderErrorf("%s takes a single argument", tok)
		}
		inner, err := r.expr(pred.Term(0))
		if err != nil {
			return "", err
		}
		return tok + "(" + inner + ")", nil

	case "if":
		if len(pred.Terms) != 3 {
			return "", renderErrorf("if takes a condition and two branches")
		}
		cond, err := r.condition(pred.Term(0))
		if err != nil {
			return "", err
		}
		then, err := r.expr(pred.Term(1))
		if err != nil {
			return "", err
		}
		els, err := r.expr(pred.Term(2))
		if err != nil {
			return "", err
		}
		return "CASE WHEN " + cond + " THEN " + then + " ELSE " + els + " END", nil
	}

	return "", renderErrorf("unsupported expression %q", pred.Token)
}

// colVal extracts the column reference and single literal value from a binary
// conditional.
func (r *renderer) colVal(pred *rql.Predicate, tok string) (string, string, error) {
	if len(pred.Terms) != 2 {
		return "", "", renderErrorf("%s requires a column and a value", tok)
	}
	col, err := r.columnRef(pred.Term(0))
	if err != nil {
		return "", "", err
	}
	val := pred.Term(1)
	if !val.IsLeaf() {
		return "", "", renderErrorf("%s value must be a literal", tok)
	}
	return col, val.Unquoted(), nil
}

func (r *renderer) singleColumn(pred *rql.Predicate, tok string) (string, error) {
	if len(pred.Terms) != 1 {
		return "", renderErrorf("%s requires exactly one column", tok)
	}
	return r.columnRef(pred.Term(0))
}

func (r *renderer) columnRef(pred *rql.Predicate) (string, error) {
	if pred == nil || !pred.IsLeaf() {
		return "", renderErrorf("expected a column name")
	}
	return r.d.QuoteIdent(pred.Unquoted()), nil
}

// escapeLike escapes LIKE metacharacters so user values match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
