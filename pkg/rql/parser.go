package rql

import "strings"

// maxDepth bounds predicate nesting so a hostile query string cannot blow the
// stack.
const maxDepth = 25

// conditionalTokens are the where-clause predicates.
var conditionalTokens = map[string]bool{
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
	"in": true, "out": true, "and": true, "or": true,
	"sw": true, "ew": true, "w": true, "wo": true,
	"emp": true, "nemp": true, "n": true, "nn": true,
	"search": true, "miles": true,
}

// directiveTokens are structural directives that shape the statement instead
// of filtering rows.
var directiveTokens = map[string]bool{
	"sort": true, "order": true, "limit": true, "offset": true,
	"page": true, "pagenum": true, "pagesize": true,
	"distinct": true, "includes": true, "group": true,
	"function": true, "aggregate": true,
	"sum": true, "count": true, "min": true, "max": true,
	"rowcount": true, "countascol": true, "as": true,
}

// excludedParams are query parameters that are never treated as filters even
// though they arrive alongside RQL terms. "q" and "filter" are not listed
// here because their values are themselves RQL clauses.
var excludedParams = map[string]bool{
	"expands": true, "excludes": true, "format": true,
	"replace": true, "ignores": true,
}

// IsConditional reports whether tok names a where-clause predicate.
func IsConditional(tok string) bool {
	return conditionalTokens[strings.ToLower(Unquote(tok))]
}

// IsDirective reports whether tok names a structural directive.
func IsDirective(tok string) bool {
	return directiveTokens[strings.ToLower(Unquote(tok))]
}

// IsReserved reports whether tok is a directive or conditional token.
func IsReserved(tok string) bool {
	return IsConditional(tok) || IsDirective(tok)
}

// IsExcludedParam reports whether name is a non-semantic query parameter.
func IsExcludedParam(name string) bool {
	return excludedParams[strings.ToLower(name)]
}

// Parser turns RQL clause strings into Predicate trees.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a clause that must contain exactly one top-level predicate.
func (p *Parser) Parse(clause string) (*Predicate, error) {
	preds, err := p.ParseAll(clause)
	if err != nil {
		return nil, err
	}
	if len(preds) != 1 {
		return nil, parseErrorf("unable to parse: expected a single predicate in %q", clause)
	}
	return preds[0], nil
}

// ParseAll parses a clause into its top-level predicates, canonicalizing the
// infix sugar "col=val" to eq(col,val) and "col=op=val" to op(col,val) before
// anything downstream sees the tree. Reserved words on the left of "=" take
// the directive form instead: "sort=-col" becomes sort(-col).
func (p *Parser) ParseAll(clause string) ([]*Predicate, error) {
	tokens, err := NewTokenizer(clause).All()
	if err != nil {
		return nil, err
	}
	w := &walker{tokens: tokens, src: clause}

	first, err := w.parseOne(0)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, parseErrorf("unable to parse: empty clause")
	}

	if w.peek() != "=" {
		preds := []*Predicate{first}
		for {
			next, err := w.parseOne(0)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return preds, nil
			}
			preds = append(preds, next)
		}
	}
	w.next() // consume "="

	// col=op=val form: a bare operator word immediately followed by "="
	if IsConditional(w.peek()) && w.peekAt(1) == "=" {
		op := Unquote(w.next())
		w.next() // consume "="
		args, err := w.parseRest()
		if err != nil {
			return nil, err
		}
		pred := NewPredicate(strings.ToLower(op), append([]*Predicate{first}, args...)...)
		pred.src = clause
		return []*Predicate{pred}, nil
	}

	args, err := w.parseRest()
	if err != nil {
		return nil, err
	}

	var pred *Predicate
	if first.IsLeaf() && !first.IsQuoted() && IsReserved(first.Token) {
		pred = NewPredicate(strings.ToLower(first.Token), args...)
	} else {
		pred = NewPredicate("eq", append([]*Predicate{first}, args...)...)
	}
	pred.src = clause
	return []*Predicate{pred}, nil
}

// walker is the token-stream cursor for one clause.
type walker struct {
	tokens []string
	src    string
	pos    int
}

func (w *walker) peek() string { return w.peekAt(0) }

func (w *walker) peekAt(n int) string {
	if w.pos+n >= len(w.tokens) {
		return ""
	}
	return w.tokens[w.pos+n]
}

func (w *walker) next() string {
	tok := w.peek()
	if tok != "" {
		w.pos++
	}
	return tok
}

// parseOne reads a single predicate: either a "name(" function call whose
// children run to the matching ")", or a leaf token. Returns nil at end of
// input.
func (w *walker) parseOne(depth int) (*Predicate, error) {
	if depth > maxDepth {
		return nil, parseErrorf("unable to parse %q: nesting exceeds %d levels", w.src, maxDepth)
	}
	tok := w.next()
	if tok == "" {
		return nil, nil
	}
	if !strings.HasSuffix(tok, "(") {
		leaf := Leaf(tok)
		leaf.src = w.src
		return leaf, nil
	}

	name := strings.TrimSuffix(tok, "(")
	if name == "" {
		return nil, parseErrorf("unable to parse %q: bare parenthesis", w.src)
	}
	node := NewPredicate(strings.ToLower(name))
	node.src = w.src
	for {
		if w.peek() == ")" {
			w.next()
			return node, nil
		}
		child, err := w.parseOne(depth + 1)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, parseErrorf("unable to parse %q: missing closing parenthesis", w.src)
		}
		node.Terms = append(node.Terms, child)
	}
}

// parseRest reads predicates to the end of the stream, skipping stray "="
// separators left over from chained infix forms.
func (w *walker) parseRest() ([]*Predicate, error) {
	var out []*Predicate
	for {
		if w.peek() == "=" {
			w.next()
			continue
		}
		next, err := w.parseOne(0)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return out, nil
		}
		out = append(out, next)
	}
}
