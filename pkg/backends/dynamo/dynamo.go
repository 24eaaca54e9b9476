// Package dynamo selects a DynamoDB query shape for an rql statement: given a
// table's key schema it decides between the primary index, a global secondary
// index, or a scan, and renders the key-condition and filter-expression
// strings with their expression values. It produces the request shape only;
// issuing the call is the caller's concern.
package dynamo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lodeworks/lode/pkg/rql"
)

// Strategy names how the statement will be executed.
type Strategy string

const (
	// StrategyPrimary queries the table's primary index.
	StrategyPrimary Strategy = "Primary Index"
	// StrategyGSI queries a global secondary index.
	StrategyGSI Strategy = "GSI"
	// StrategyScan falls back to a full scan with a filter expression.
	StrategyScan Strategy = "Scan"
)

// KeySchema binds a hash/sort attribute pair to the logical columns callers
// filter on. HashAttr/SortAttr are the physical attribute names ("hk", "sk");
// HashCol/SortCol are the column names that appear in queries ("OrderId",
// "type"). SortAttr/SortCol are empty for hash-only schemas.
type KeySchema struct {
	HashAttr string
	HashCol  string
	SortAttr string
	SortCol  string
}

// Index is a named global secondary index.
type Index struct {
	Name string
	Keys KeySchema
}

// Table describes the key layout the selector chooses against.
type Table struct {
	Name    string
	Primary KeySchema
	GSIs    []Index
}

// Query is the selected request shape.
type Query struct {
	Strategy  Strategy
	IndexName string

	// KeyCondition is empty for scans.
	KeyCondition string
	// FilterExpression carries the conditions the chosen index cannot serve.
	FilterExpression string
	// Values maps expression-value names (":OrderId") to their literals.
	Values map[string]string

	Limit int
}

// SelectError reports a statement the selector cannot express.
type SelectError struct {
	Message string
}

func (e *SelectError) Error() string { return e.Message }

// StatusCode implements the status-bearing error contract.
func (e *SelectError) StatusCode() int { return 400 }

func selectErrorf(format string, args ...interface{}) error {
	return &SelectError{Message: fmt.Sprintf(format, args...)}
}

// cond is one flattened comparison from the where tree.
type cond struct {
	op  string
	col string
	// values holds one literal, or several for in().
	values []string
}

// Plan picks the cheapest strategy the statement's filters allow. An eq on a
// schema's hash column promotes that schema; a sort-column condition (eq, sw
// or a range operator) joins the key condition; everything else lands in the
// filter expression. The primary index wins ties with GSIs.
func Plan(table Table, stmt *rql.Stmt) (*Query, error) {
	conds, err := flatten(stmt.Where)
	if err != nil {
		return nil, err
	}

	limit, _ := window(stmt)
	q := &Query{Strategy: StrategyScan, Values: map[string]string{}, Limit: limit}

	schema, indexName := chooseSchema(table, conds)
	if schema == nil {
		// scan: every condition is a filter
		q.FilterExpression, err = renderFilter(q, conds)
		return q, err
	}

	if indexName == "" {
		q.Strategy = StrategyPrimary
	} else {
		q.Strategy = StrategyGSI
		q.IndexName = indexName
	}

	var keyParts []string
	var rest []cond
	hashDone, sortDone := false, false
	for _, c := range conds {
		switch {
		case !hashDone && c.op == "eq" && strings.EqualFold(c.col, schema.HashCol):
			keyParts = append(keyParts, schema.HashAttr+" = "+q.value(c.col, c.values[0]))
			hashDone = true
		case !sortDone && schema.SortCol != "" && strings.EqualFold(c.col, schema.SortCol) && isSortOp(c.op):
			part, err := renderSortCondition(q, schema.SortAttr, c)
			if err != nil {
				return nil, err
			}
			keyParts = append(keyParts, part)
			sortDone = true
		default:
			rest = append(rest, c)
		}
	}
	q.KeyCondition = strings.Join(keyParts, " and ")

	q.FilterExpression, err = renderFilter(q, rest)
	return q, err
}

// chooseSchema returns the first schema whose hash column has an eq filter.
// nil means no index applies.
func chooseSchema(table Table, conds []cond) (*KeySchema, string) {
	if hasHashEq(table.Primary, conds) {
		return &table.Primary, ""
	}
	for i := range table.GSIs {
		if hasHashEq(table.GSIs[i].Keys, conds) {
			return &table.GSIs[i].Keys, table.GSIs[i].Name
		}
	}
	return nil, ""
}

func hasHashEq(schema KeySchema, conds []cond) bool {
	for _, c := range conds {
		if c.op == "eq" && strings.EqualFold(c.col, schema.HashCol) {
			return true
		}
	}
	return false
}

func isSortOp(op string) bool {
	switch op {
	case "eq", "sw", "lt", "le", "gt", "ge":
		return true
	}
	return false
}

func renderSortCondition(q *Query, attr string, c cond) (string, error) {
	v := q.value(c.col, c.values[0])
	switch c.op {
	case "eq":
		return attr + " = " + v, nil
	case "sw":
		return "begins_with(" + attr + "," + v + ")", nil
	case "lt":
		return attr + " < " + v, nil
	case "le":
		return attr + " <= " + v, nil
	case "gt":
		return attr + " > " + v, nil
	case "ge":
		return attr + " >= " + v, nil
	}
	return "", selectErrorf("unsupported sort-key operator %q", c.op)
}

func renderFilter(q *Query, conds []cond) (string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		switch c.op {
		case "eq", "ne", "lt", "le", "gt", "ge":
			ops := map[string]string{"eq": "=", "ne": "<>", "lt": "<", "le": "<=", "gt": ">", "ge": ">="}
			parts = append(parts, c.col+" "+ops[c.op]+" "+q.value(c.col, c.values[0]))
		case "sw":
			parts = append(parts, "begins_with("+c.col+","+q.value(c.col, c.values[0])+")")
		case "w":
			parts = append(parts, "contains("+c.col+","+q.value(c.col, c.values[0])+")")
		case "n":
			parts = append(parts, "attribute_not_exists("+c.col+")")
		case "nn":
			parts = append(parts, "attribute_exists("+c.col+")")
		case "in":
			names := make([]string, 0, len(c.values))
			for _, v := range c.values {
				names = append(names, q.value(c.col, v))
			}
			parts = append(parts, c.col+" IN ("+strings.Join(names, ",")+")")
		default:
			return "", selectErrorf("unsupported filter operator %q for this backend", c.op)
		}
	}
	return strings.Join(parts, " and "), nil
}

// value registers a literal under an expression-value name derived from the
// column, suffixing on collision, and returns the name.
func (q *Query) value(col, literal string) string {
	name := ":" + col
	for i := 2; ; i++ {
		if _, taken := q.Values[name]; !taken {
			break
		}
		name = ":" + col + strconv.Itoa(i)
	}
	q.Values[name] = literal
	return name
}

// flatten unrolls the where predicates, descending through and() so each
// comparison is visible to strategy selection in source order. or() cannot be
// served by a key condition and is rejected rather than silently scanned.
func flatten(preds []*rql.Predicate) ([]cond, error) {
	var out []cond
	for _, pred := range preds {
		tok := strings.ToLower(rql.Unquote(pred.Token))
		if tok == "and" {
			nested, err := flatten(pred.Terms)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		if tok == "or" {
			return nil, selectErrorf("or() is not supported by this backend")
		}
		if len(pred.Terms) < 1 {
			return nil, selectErrorf("%s requires a column", tok)
		}
		c := cond{op: tok, col: pred.Term(0).Unquoted()}
		for _, term := range pred.Terms[1:] {
			if !term.IsLeaf() {
				return nil, selectErrorf("%s values must be literals", tok)
			}
			c.values = append(c.values, term.Unquoted())
		}
		if len(c.values) == 0 && tok != "n" && tok != "nn" && tok != "emp" && tok != "nemp" {
			return nil, selectErrorf("%s requires a value", tok)
		}
		out = append(out, c)
	}
	return out, nil
}

func window(stmt *rql.Stmt) (limit, offset int) {
	limit, offset = stmt.Limit, stmt.Offset
	if limit < 0 && stmt.PageSize >= 0 {
		limit = stmt.PageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
