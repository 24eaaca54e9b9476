package rql

import (
	"sort"
	"strconv"
	"strings"
)

// Col is a projected column: a name plus an optional computed-value
// predicate. A nil Pred means a plain column reference.
type Col struct {
	Name string
	Pred *Predicate
}

// Sort is one ORDER BY entry.
type Sort struct {
	Column string
	Desc   bool
}

// Stmt is the backend-agnostic query description accumulated from the parsed
// predicates: projection, filters, grouping, ordering and paging, ready for a
// dialect-specific renderer.
//
// Limit/Offset and PageNum/PageSize are both recorded and deliberately not
// reconciled here; renderers prefer the explicit Limit/Offset pair when both
// styles appear.
type Stmt struct {
	cols         []Col
	restrictCols bool

	Distinct bool
	Where    []*Predicate
	GroupBy  []string
	Order    []Sort

	Limit    int
	Offset   int
	PageNum  int
	PageSize int
	MaxRows  int

	// RowCount, when non-empty, names a total-count column the renderer
	// must produce alongside the page of rows.
	RowCount string

	anon int
}

// NewStmt creates an empty statement with paging fields unset (-1).
func NewStmt() *Stmt {
	return &Stmt{
		Limit:    -1,
		Offset:   -1,
		PageNum:  -1,
		PageSize: -1,
		MaxRows:  -1,
	}
}

// Clone returns a statement whose slice fields are fully detached from s:
// appending filters, columns, grouping or ordering to the clone never writes
// into s's backing arrays, so a memoized statement can be handed to many
// concurrent requests. Predicate nodes stay shared; they are immutable after
// parsing.
func (s *Stmt) Clone() *Stmt {
	cp := *s
	if s.cols != nil {
		cp.cols = append(make([]Col, 0, len(s.cols)), s.cols...)
	}
	if s.Where != nil {
		cp.Where = append(make([]*Predicate, 0, len(s.Where)), s.Where...)
	}
	if s.GroupBy != nil {
		cp.GroupBy = append(make([]string, 0, len(s.GroupBy)), s.GroupBy...)
	}
	if s.Order != nil {
		cp.Order = append(make([]Sort, 0, len(s.Order)), s.Order...)
	}
	return &cp
}

// Cols returns the projected columns in insertion order.
func (s *Stmt) Cols() []Col {
	return s.cols
}

// IsRestricted reports whether an explicit projection was locked in by an
// includes directive.
func (s *Stmt) IsRestricted() bool { return s.restrictCols }

// AddCol adds or replaces a projected column. Replacement keeps the original
// position; new columns append.
func (s *Stmt) AddCol(name string, pred *Predicate) {
	if name == "" {
		s.anon++
		name = "$$$ANON" + strconv.Itoa(s.anon)
	}
	for i := range s.cols {
		if strings.EqualFold(s.cols[i].Name, name) {
			s.cols[i].Pred = pred
			return
		}
	}
	s.cols = append(s.cols, Col{Name: name, Pred: pred})
}

// SetCols locks in an explicit ordered projection.
func (s *Stmt) SetCols(names ...string) {
	s.restrictCols = true
	for _, name := range names {
		s.AddCol(name, nil)
	}
}

// BuildStmt parses every query parameter into predicates and accumulates
// them onto a fresh Stmt. The supplied params map is not modified. The result
// is independent of map iteration order.
func BuildStmt(params map[string]string) (*Stmt, error) {
	stmt := NewStmt()
	if err := ApplyParams(stmt, params); err != nil {
		return nil, err
	}
	return stmt, nil
}

// ApplyParams applies query parameters onto an existing statement.
//
// The ignores parameter, when present, is applied first and removes the named
// keys before any predicate parsing occurs. "q" and "filter" values are
// parsed as whole clause strings; a bare key containing "(" is treated as a
// pre-formed call; any other key=value pair is rewritten to "key=value" and
// parsed the same way.
func ApplyParams(stmt *Stmt, params map[string]string) error {
	work := make(map[string]string, len(params))
	for k, v := range params {
		work[k] = v
	}

	if raw, ok := lookup(work, "ignores"); ok {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(Unquote(name))
			if name == "" {
				continue
			}
			deleteFold(work, name)
		}
		deleteFold(work, "ignores")
	}

	parser := NewParser()

	keys := make([]string, 0, len(work))
	for k := range work {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := work[key]
		lower := strings.ToLower(key)

		if IsExcludedParam(lower) {
			continue
		}

		var clause string
		switch {
		case lower == "q" || lower == "filter":
			if strings.TrimSpace(value) == "" {
				continue
			}
			clause = value
		case value == "" && strings.Contains(key, "("):
			clause = key
		case value == "":
			clause = key + "="
		default:
			clause = key + "=" + value
		}

		preds, err := parser.ParseAll(clause)
		if err != nil {
			return err
		}
		for _, pred := range preds {
			if err := applyPredicate(stmt, pred); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyPredicate classifies one top-level predicate and folds it into the
// statement.
func applyPredicate(stmt *Stmt, pred *Predicate) error {
	tok := strings.ToLower(Unquote(pred.Token))

	if IsConditional(tok) {
		if err := validateNestedAggregates(pred, false); err != nil {
			return err
		}
		stmt.Where = append(stmt.Where, pred)
		return nil
	}

	switch tok {
	case "group":
		for _, term := range pred.Terms {
			stmt.GroupBy = append(stmt.GroupBy, term.Unquoted())
		}

	case "includes":
		// only valid as a top-level directive; the parser cannot produce a
		// nested includes from a query parameter, but a pre-formed clause can
		for _, term := range pred.Terms {
			if !term.IsLeaf() {
				return parseErrorf("unable to parse: includes does not accept nested terms in %q", pred.String())
			}
			stmt.AddCol(term.Unquoted(), nil)
		}
		stmt.restrictCols = true

	case "distinct":
		stmt.Distinct = true

	case "function", "aggregate":
		if len(pred.Terms) < 2 {
			return parseErrorf("unable to parse: %s requires a function name and a column", tok)
		}
		fn := strings.ToLower(pred.Term(0).Unquoted())
		col := pred.Term(1)
		alias := ""
		if len(pred.Terms) > 2 {
			alias = pred.Term(2).Unquoted()
		}
		stmt.AddCol(alias, NewPredicate(fn, col))
		stmt.GroupBy = append(stmt.GroupBy, col.Unquoted())

	case "sum", "count", "min", "max":
		if len(pred.Terms) < 1 || len(pred.Terms) > 2 {
			return parseErrorf("unable to parse: %s takes a column and an optional alias", tok)
		}
		alias := ""
		if len(pred.Terms) == 2 {
			alias = pred.Term(1).Unquoted()
		}
		stmt.AddCol(alias, NewPredicate(tok, pred.Term(0)))

	case "rowcount":
		name := "rowCount"
		if len(pred.Terms) > 0 {
			name = pred.Term(0).Unquoted()
		}
		stmt.RowCount = name

	case "countascol":
		if len(pred.Terms) < 2 {
			return parseErrorf("unable to parse: countascol requires a column and at least one value")
		}
		col := pred.Term(0)
		values := pred.Terms[1:]
		for _, v := range values {
			// pivot each value into sum(if(eq(col,value),1,0)) aliased to it
			sumIf := NewPredicate("sum",
				NewPredicate("if",
					NewPredicate("eq", col, v),
					Leaf("1"),
					Leaf("0"),
				),
			)
			stmt.AddCol(v.Unquoted(), sumIf)
		}
		stmt.Where = append(stmt.Where, NewPredicate("in", append([]*Predicate{col}, values...)...))

	case "as":
		if len(pred.Terms) != 2 {
			return parseErrorf("unable to parse: as requires an expression and an alias")
		}
		stmt.AddCol(pred.Term(1).Unquoted(), pred.Term(0))

	case "limit":
		if err := pagingPair(pred, "limit", &stmt.Limit, &stmt.Offset); err != nil {
			return err
		}

	case "offset":
		if err := pagingPair(pred, "offset", &stmt.Offset, &stmt.Limit); err != nil {
			return err
		}

	case "page", "pagenum":
		if err := pagingPair(pred, tok, &stmt.PageNum, &stmt.PageSize); err != nil {
			return err
		}

	case "pagesize":
		if len(pred.Terms) < 1 {
			return parseErrorf("unable to parse: pagesize requires a value")
		}
		n, err := parsePagingInt("pagesize", pred.Term(0).Token)
		if err != nil {
			return err
		}
		stmt.PageSize = n

	case "order", "sort":
		for _, term := range pred.Terms {
			col := term.Unquoted()
			desc := false
			switch {
			case strings.HasPrefix(col, "-"):
				desc = true
				col = col[1:]
			case strings.HasPrefix(col, "+"):
				col = col[1:]
			}
			stmt.Order = append(stmt.Order, Sort{Column: col, Desc: desc})
		}

	default:
		src := pred.Src()
		if src == "" {
			src = pred.String()
		}
		return parseErrorf("unable to parse: %q", src)
	}
	return nil
}

// pagingPair handles the reversed two-argument paging directives:
// limit(N[,offset]) and offset(N[,limit]) set the same window either way.
func pagingPair(pred *Predicate, field string, first, second *int) error {
	if len(pred.Terms) < 1 {
		return parseErrorf("unable to parse: %s requires a value", field)
	}
	n, err := parsePagingInt(field, pred.Term(0).Token)
	if err != nil {
		return err
	}
	*first = n
	if len(pred.Terms) > 1 {
		m, err := parsePagingInt(field, pred.Term(1).Token)
		if err != nil {
			return err
		}
		*second = m
	}
	return nil
}

// parsePagingInt strips any combination of surrounding backtick, single or
// double quotes before parsing. A non-integer is a 400-class error naming the
// offending field and raw value.
func parsePagingInt(field, raw string) (int, error) {
	n, err := strconv.Atoi(Unquote(raw))
	if err != nil {
		return 0, parseErrorf("expected an integer for %q but found %q", field, raw)
	}
	return n, nil
}

// validateNestedAggregates enforces that sum/count/min/max carry an alias
// only at the root: nested inside another predicate they must be
// single-argument.
func validateNestedAggregates(pred *Predicate, nested bool) error {
	tok := strings.ToLower(Unquote(pred.Token))
	switch tok {
	case "sum", "count", "min", "max":
		if nested && len(pred.Terms) > 1 {
			return parseErrorf("unable to parse: nested %s takes a single argument", tok)
		}
	case "includes", "distinct":
		if nested {
			return parseErrorf("unable to parse: %s may only be used as a top-level directive", tok)
		}
	}
	for _, term := range pred.Terms {
		if term.IsLeaf() {
			continue
		}
		if err := validateNestedAggregates(term, true); err != nil {
			return err
		}
	}
	return nil
}

func lookup(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func deleteFold(m map[string]string, key string) {
	for k := range m {
		if strings.EqualFold(k, key) {
			delete(m, k)
		}
	}
}

// BuildStmtWithBase builds a statement that starts from a pre-authored base
// query. ${name} placeholders in base are filled from params first; each
// substituted param is consumed and no longer parsed as a predicate. The
// expanded base clauses apply before the remaining request params, so a
// caller can tighten but not remove the authored filters.
func BuildStmtWithBase(base string, params map[string]string) (*Stmt, error) {
	work := make(map[string]string, len(params))
	for k, v := range params {
		work[k] = v
	}

	expanded, err := ExpandTemplate(base, work)
	if err != nil {
		return nil, err
	}

	stmt := NewStmt()
	if err := ApplyParams(stmt, splitQueryPairs(expanded)); err != nil {
		return nil, err
	}
	if err := ApplyParams(stmt, work); err != nil {
		return nil, err
	}
	return stmt, nil
}

// splitQueryPairs breaks an authored statement string into the key/value form
// ApplyParams consumes: "&"-separated parts, each either a key=value pair or
// a bare pre-formed clause.
func splitQueryPairs(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, "&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.Index(part, "="); i >= 0 && !strings.Contains(part[:i], "(") {
			out[part[:i]] = part[i+1:]
			continue
		}
		out[part] = ""
	}
	return out
}

// ExpandTemplate substitutes ${name} placeholders in a hand-written base
// statement directly from params, removing each used key so it is no longer
// eligible for predicate parsing. A placeholder with no matching param is a
// 400-class error naming the param. This is a distinct pass that runs before
// any RQL evaluation.
func ExpandTemplate(template string, params map[string]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); {
		j := strings.Index(template[i:], "${")
		if j < 0 {
			b.WriteString(template[i:])
			break
		}
		b.WriteString(template[i : i+j])
		end := strings.Index(template[i+j:], "}")
		if end < 0 {
			return "", parseErrorf("unterminated ${} placeholder in statement template")
		}
		name := template[i+j+2 : i+j+end]
		val, ok := lookup(params, name)
		if !ok {
			return "", parseErrorf("missing required parameter %q for statement template", name)
		}
		b.WriteString(val)
		deleteFold(params, name)
		i += j + end + 1
	}
	return b.String(), nil
}
