// Package elastic renders rql statements into Elasticsearch query-DSL search
// bodies. The output is a plain map ready for JSON encoding; transport is the
// caller's concern.
package elastic

import (
	"fmt"
	"strings"

	"github.com/lodeworks/lode/pkg/rql"
)

// BuildError reports a statement the DSL builder cannot express.
type BuildError struct {
	Message string
}

func (e *BuildError) Error() string { return e.Message }

// StatusCode implements the status-bearing error contract.
func (e *BuildError) StatusCode() int { return 400 }

func buildErrorf(format string, args ...interface{}) error {
	return &BuildError{Message: fmt.Sprintf(format, args...)}
}

// Body builds the search request body for stmt: a bool query from the where
// predicates, from/size paging, sort entries and _source restriction.
func Body(stmt *rql.Stmt) (map[string]interface{}, error) {
	body := map[string]interface{}{}

	if len(stmt.Where) > 0 {
		musts := make([]interface{}, 0, len(stmt.Where))
		for _, pred := range stmt.Where {
			clause, err := query(pred)
			if err != nil {
				return nil, err
			}
			musts = append(musts, clause)
		}
		if len(musts) == 1 {
			body["query"] = musts[0]
		} else {
			body["query"] = map[string]interface{}{
				"bool": map[string]interface{}{"must": musts},
			}
		}
	} else {
		body["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	if len(stmt.Order) > 0 {
		sorts := make([]interface{}, 0, len(stmt.Order))
		for _, s := range stmt.Order {
			dir := "asc"
			if s.Desc {
				dir = "desc"
			}
			sorts = append(sorts, map[string]interface{}{s.Column: map[string]interface{}{"order": dir}})
		}
		body["sort"] = sorts
	}

	if stmt.IsRestricted() {
		names := make([]string, 0, len(stmt.Cols()))
		for _, col := range stmt.Cols() {
			if col.Pred != nil {
				return nil, buildErrorf("computed columns are not supported by this backend")
			}
			names = append(names, col.Name)
		}
		body["_source"] = names
	}

	from, size := window(stmt)
	if from > 0 {
		body["from"] = from
	}
	if size >= 0 {
		body["size"] = size
	}
	if stmt.RowCount != "" {
		body["track_total_hits"] = true
	}

	return body, nil
}

// query renders one predicate as a DSL clause.
func query(pred *rql.Predicate) (map[string]interface{}, error) {
	tok := strings.ToLower(rql.Unquote(pred.Token))

	switch tok {
	case "and", "or":
		clauses := make([]interface{}, 0, len(pred.Terms))
		for _, term := range pred.Terms {
			c, err := query(term)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, c)
		}
		if tok == "and" {
			return boolQuery("must", clauses), nil
		}
		b := boolQuery("should", clauses)
		b["bool"].(map[string]interface{})["minimum_should_match"] = 1
		return b, nil

	case "eq":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"term": map[string]interface{}{col: val}}, nil

	case "ne":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		return mustNot(map[string]interface{}{"term": map[string]interface{}{col: val}}), nil

	case "lt", "le", "gt", "ge":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		bound := map[string]string{"lt": "lt", "le": "lte", "gt": "gt", "ge": "gte"}[tok]
		return map[string]interface{}{
			"range": map[string]interface{}{col: map[string]interface{}{bound: val}},
		}, nil

	case "in", "out":
		if len(pred.Terms) < 2 {
			return nil, buildErrorf("%s requires a column and at least one value", tok)
		}
		col := pred.Term(0).Unquoted()
		vals := make([]interface{}, 0, len(pred.Terms)-1)
		for _, term := range pred.Terms[1:] {
			if !term.IsLeaf() {
				return nil, buildErrorf("%s values must be literals", tok)
			}
			vals = append(vals, term.Unquoted())
		}
		terms := map[string]interface{}{"terms": map[string]interface{}{col: vals}}
		if tok == "out" {
			return mustNot(terms), nil
		}
		return terms, nil

	case "sw":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"prefix": map[string]interface{}{col: val}}, nil

	case "ew", "w", "wo":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		pattern := "*" + val
		if tok != "ew" {
			pattern += "*"
		}
		wc := map[string]interface{}{"wildcard": map[string]interface{}{col: pattern}}
		if tok == "wo" {
			return mustNot(wc), nil
		}
		return wc, nil

	case "search":
		col, val, err := colVal(pred, tok)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"match": map[string]interface{}{
				col: map[string]interface{}{"query": val, "fuzziness": "AUTO"},
			},
		}, nil

	case "emp", "n":
		col, err := singleColumn(pred, tok)
		if err != nil {
			return nil, err
		}
		return mustNot(map[string]interface{}{"exists": map[string]interface{}{"field": col}}), nil

	case "nemp", "nn":
		col, err := singleColumn(pred, tok)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"exists": map[string]interface{}{"field": col}}, nil

	case "miles":
		// miles(col,'lat,lon',radius)
		if len(pred.Terms) != 3 {
			return nil, buildErrorf("miles requires a column, a 'lat,lon' point and a radius")
		}
		col := pred.Term(0).Unquoted()
		point := pred.Term(1).Unquoted()
		radius := pred.Term(2).Unquoted()
		return map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": radius + "mi",
				col:        point,
			},
		}, nil
	}

	return nil, buildErrorf("unsupported conditional %q", pred.Token)
}

func boolQuery(occur string, clauses []interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{occur: clauses},
	}
}

func mustNot(clause map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{"must_not": []interface{}{clause}},
	}
}

func colVal(pred *rql.Predicate, tok string) (string, string, error) {
	if len(pred.Terms) != 2 {
		return "", "", buildErrorf("%s requires a column and a value", tok)
	}
	val := pred.Term(1)
	if !val.IsLeaf() {
		return "", "", buildErrorf("%s value must be a literal", tok)
	}
	return pred.Term(0).Unquoted(), val.Unquoted(), nil
}

func singleColumn(pred *rql.Predicate, tok string) (string, error) {
	if len(pred.Terms) != 1 {
		return "", buildErrorf("%s requires exactly one column", tok)
	}
	return pred.Term(0).Unquoted(), nil
}

func window(stmt *rql.Stmt) (from, size int) {
	size, from = stmt.Limit, stmt.Offset
	if size < 0 && stmt.PageSize >= 0 {
		size = stmt.PageSize
		if from < 0 && stmt.PageNum > 0 {
			from = (stmt.PageNum - 1) * stmt.PageSize
		}
	}
	if from < 0 {
		from = 0
	}
	return from, size
}
