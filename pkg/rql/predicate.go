package rql

import "strings"

// Predicate is a node of the parsed RQL tree: a token (function name or
// literal) plus ordered child terms. Leaves have no terms. Predicates are
// built once by the parser and never mutated afterwards; canonicalization of
// infix forms happens inside the parser as a pure transform.
type Predicate struct {
	Token string
	Terms []*Predicate
	src   string
}

// NewPredicate builds a function predicate.
func NewPredicate(token string, terms ...*Predicate) *Predicate {
	return &Predicate{Token: token, Terms: terms}
}

// Leaf builds a literal predicate.
func Leaf(token string) *Predicate {
	return &Predicate{Token: token}
}

// IsLeaf reports whether p has no child terms.
func (p *Predicate) IsLeaf() bool { return len(p.Terms) == 0 }

// Src returns the raw source text the predicate was parsed from, when known.
func (p *Predicate) Src() string { return p.src }

// Term returns child i or nil.
func (p *Predicate) Term(i int) *Predicate {
	if i < 0 || i >= len(p.Terms) {
		return nil
	}
	return p.Terms[i]
}

// IsQuoted reports whether the token carries the quote characters the
// tokenizer echoed back, marking it as a string literal.
func (p *Predicate) IsQuoted() bool {
	return len(p.Token) >= 2 &&
		(p.Token[0] == '\'' || p.Token[0] == '"' || p.Token[0] == '`') &&
		p.Token[len(p.Token)-1] == p.Token[0]
}

// Unquoted returns the token with any surrounding backtick, single or double
// quotes stripped, repeatedly, so `'5'` and `"'5'"` both yield 5.
func (p *Predicate) Unquoted() string {
	return Unquote(p.Token)
}

// Unquote strips any combination of surrounding backtick/single/double
// quotes from s.
func Unquote(s string) string {
	for len(s) >= 2 {
		c := s[0]
		if (c == '\'' || c == '"' || c == '`') && s[len(s)-1] == c {
			s = s[1 : len(s)-1]
			continue
		}
		break
	}
	return s
}

// String renders the predicate in canonical function form: the first term of
// a call is rendered as a double-quoted column, the remaining leaf terms as
// single-quoted values, e.g. eq("col",'val').
func (p *Predicate) String() string {
	if p.IsLeaf() {
		return p.Token
	}
	var b strings.Builder
	b.WriteString(p.Token)
	b.WriteByte('(')
	for i, term := range p.Terms {
		if i > 0 {
			b.WriteByte(',')
		}
		if term.IsLeaf() {
			if i == 0 {
				b.WriteByte('"')
				b.WriteString(term.Unquoted())
				b.WriteByte('"')
			} else {
				b.WriteByte('\'')
				b.WriteString(term.Unquoted())
				b.WriteByte('\'')
			}
		} else {
			b.WriteString(term.String())
		}
	}
	b.WriteByte(')')
	return b.String()
}
