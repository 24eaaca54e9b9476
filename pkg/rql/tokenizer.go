package rql

import "strings"

// Tokenizer is a hand-rolled character-class state machine over a single
// query-parameter string.
//
// It recognizes parenthesized function calls ("name(" is returned as one
// token, opening paren included), comma and space as term separators
// (suppressed inside quotes or after a backslash escape), single- and
// double-quoted literals (the quote characters are echoed back in the token
// so the parser can tell string literals from bare identifiers), and
// backslash escaping of the next character. ")" and "=" are self-terminating
// one-character tokens when encountered outside any pending token.
type Tokenizer struct {
	chars []rune
	head  int
}

// NewTokenizer creates a tokenizer over clause.
func NewTokenizer(clause string) *Tokenizer {
	return &Tokenizer{chars: []rune(clause)}
}

// Next returns the next token, or "" at end of input. It fails on an
// unterminated quote or a trailing escape character.
func (t *Tokenizer) Next() (string, error) {
	var b strings.Builder
	escaped := false
	var quote rune

	for t.head < len(t.chars) {
		c := t.chars[t.head]
		t.head++

		if escaped {
			b.WriteRune(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if quote != 0 {
			b.WriteRune(c)
			if c == quote {
				return b.String(), nil
			}
			continue
		}

		switch c {
		case '\'', '"':
			if b.Len() > 0 {
				t.head--
				return b.String(), nil
			}
			quote = c
			b.WriteRune(c)

		case '(':
			// function-call token: name plus trailing paren
			b.WriteRune(c)
			return b.String(), nil

		case ')', '=':
			if b.Len() > 0 {
				t.head--
				return b.String(), nil
			}
			return string(c), nil

		case ',', ' ':
			if b.Len() > 0 {
				return b.String(), nil
			}
			// leading separators are skipped

		default:
			b.WriteRune(c)
		}
	}

	if escaped {
		return "", parseErrorf("unable to tokenize: trailing escape character")
	}
	if quote != 0 {
		return "", parseErrorf("unable to tokenize: unterminated quote in %q", string(t.chars))
	}
	return b.String(), nil
}

// All exhausts the tokenizer and returns every token in order.
func (t *Tokenizer) All() ([]string, error) {
	var tokens []string
	for {
		tok, err := t.Next()
		if err != nil {
			return nil, err
		}
		if tok == "" {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}
