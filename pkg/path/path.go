// Package path implements the segment-list path abstraction used by all
// routing rules.
//
// A path is an ordered list of segments parsed from a slash-delimited string.
// Each segment is one of:
//
//   - a literal: compared case-insensitively, stored case-preserving
//   - a wildcard "*": matches anything, only valid as the last segment
//   - an optional segment "[seg]": makes itself and every following segment
//     optional for matching purposes
//   - a variable "{name}" or "{name:regex}" (equivalently ":name"): binds the
//     corresponding concrete segment, optionally validated by a
//     case-insensitive regex
//
// The matcher is a local, greedy, left-to-right walk. It deliberately does not
// backtrack between optional blocks; composing wildcard, variable and optional
// segments stays simple and explainable at that cost.
package path

import (
	"fmt"
	"regexp"
	"strings"
)

// Path is an ordered list of raw segment strings. The zero value is an empty
// path. Collaborators treat paths copy-on-write: mutating helpers return new
// slices and never share backing arrays with callers that still hold the
// original.
type Path []string

// Parse builds a Path from a slash-delimited string, validating every
// segment. Empty segments are dropped.
func Parse(raw string) (Path, error) {
	p := Path{}
	return p.Add(raw)
}

// MustParse is Parse for statically-known paths; it panics on a parse error.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Add appends the segments of raw to a copy of p, validating as it goes.
// Validation failures: a wildcard followed by more segments, a bracket or
// brace wrapper with a malformed variable name, or a bare "$" prefix.
func (p Path) Add(raw string) (Path, error) {
	out := append(Path{}, p...)
	for _, seg := range strings.Split(raw, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == "*" {
			if seg == "*" {
				// collapse repeated wildcards
				continue
			}
			return nil, &ParseError{fmt.Sprintf("invalid path: wildcard must be the last segment, found %q after '*'", seg)}
		}
		if strings.HasPrefix(seg, "$") {
			return nil, &ParseError{fmt.Sprintf("invalid path segment %q: '$' prefix is reserved", seg)}
		}
		norm, err := normalizeSegment(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	return out, nil
}

// normalizeSegment validates one segment and rewrites the ":name" variable
// shorthand into "{name}" so the matcher only sees one variable syntax.
func normalizeSegment(seg string) (string, error) {
	inner := seg
	optional := false
	if strings.HasPrefix(inner, "[") {
		if !strings.HasSuffix(inner, "]") {
			return "", &ParseError{fmt.Sprintf("invalid path segment %q: unterminated '['", seg)}
		}
		optional = true
		inner = inner[1 : len(inner)-1]
		if inner == "" {
			return "", &ParseError{fmt.Sprintf("invalid path segment %q: empty optional segment", seg)}
		}
	}
	if strings.HasPrefix(inner, ":") {
		name := inner[1:]
		if name == "" {
			return "", &ParseError{fmt.Sprintf("invalid path segment %q: missing variable name", seg)}
		}
		inner = "{" + name + "}"
	}
	if strings.HasPrefix(inner, "{") {
		if !strings.HasSuffix(inner, "}") {
			return "", &ParseError{fmt.Sprintf("invalid path segment %q: unterminated '{'", seg)}
		}
		body := inner[1 : len(inner)-1]
		name := body
		if i := strings.Index(body, ":"); i >= 0 {
			name = body[:i]
			if _, err := regexp.Compile("(?i)^(" + body[i+1:] + ")$"); err != nil {
				return "", &ParseError{fmt.Sprintf("invalid path segment %q: bad regex: %v", seg, err)}
			}
		}
		if name == "" {
			return "", &ParseError{fmt.Sprintf("invalid path segment %q: missing variable name", seg)}
		}
	}
	if optional {
		return "[" + inner + "]", nil
	}
	return inner, nil
}

// ParseError reports an invalid path rule. It maps to a 400-class failure at
// configuration time.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return e.Msg }

// StatusCode implements the framework's status-carrying error contract.
func (e *ParseError) StatusCode() int { return 400 }

func (p Path) String() string { return strings.Join(p, "/") }

// Size returns the number of segments.
func (p Path) Size() int { return len(p) }

// First returns the first segment or "".
func (p Path) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Get returns segment i or "" when out of range.
func (p Path) Get(i int) string {
	if i < 0 || i >= len(p) {
		return ""
	}
	return p[i]
}

// Sub returns a copy of the segments from i to the end.
func (p Path) Sub(i int) Path {
	if i >= len(p) {
		return Path{}
	}
	return append(Path{}, p[i:]...)
}

// IsWildcard reports whether segment i is "*".
func (p Path) IsWildcard(i int) bool { return p.Get(i) == "*" }

// IsOptional reports whether segment i is wrapped in brackets.
func (p Path) IsOptional(i int) bool {
	s := p.Get(i)
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

// IsVar reports whether segment i is a variable binding.
func (p Path) IsVar(i int) bool {
	s := unwrapOptional(p.Get(i))
	return strings.HasPrefix(s, "{")
}

// VarName returns the variable name of segment i or "".
func (p Path) VarName(i int) string {
	s := unwrapOptional(p.Get(i))
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ""
	}
	body := s[1 : len(s)-1]
	if j := strings.Index(body, ":"); j >= 0 {
		return body[:j]
	}
	return body
}

// VarRegex returns the regex bound to variable segment i or "".
func (p Path) VarRegex(i int) string {
	s := unwrapOptional(p.Get(i))
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ""
	}
	body := s[1 : len(s)-1]
	if j := strings.Index(body, ":"); j >= 0 {
		return body[j+1:]
	}
	return ""
}

func unwrapOptional(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1]
	}
	return s
}

// Matches reports whether concrete matches this path rule. Variable and
// optional interpretation on the concrete side is disabled; use MatchesDir
// with bidirectional=true when comparing two rule paths.
func (p Path) Matches(concrete Path) bool {
	return p.MatchesDir(concrete, false)
}

// MatchesDir walks both paths index-by-index up to the longer length.
//
// A "*" on either side ends the walk successfully: the rest is
// unconstrained. Once an optional segment has been seen on a side, a missing
// corresponding segment on the other side is tolerated; literal mismatches
// are still checked while both sides have segments. Two variables are
// compatible; a variable with a regex must match the literal counterpart
// case-insensitively; everything else is a case-insensitive literal compare
// after stripping the bracket wrapper.
func (p Path) MatchesDir(concrete Path, bidirectional bool) bool {
	aOptional := false
	bOptional := false

	max := len(p)
	if len(concrete) > max {
		max = len(concrete)
	}

	for i := 0; i < max; i++ {
		aOk := i < len(p)
		bOk := i < len(concrete)

		if aOk && p.IsWildcard(i) {
			return true
		}
		if bOk && concrete.IsWildcard(i) {
			return true
		}

		if aOk && p.IsOptional(i) {
			aOptional = true
		}
		if bidirectional && bOk && concrete.IsOptional(i) {
			bOptional = true
		}

		if !bOk {
			// concrete exhausted: tolerated only inside p's optional tail
			return aOptional
		}
		if !aOk {
			return bOptional
		}

		aVar := p.IsVar(i)
		bVar := bidirectional && concrete.IsVar(i)

		switch {
		case aVar && bVar:
			// two rule variables are compatible regardless of regex
		case aVar:
			if !varMatches(p.VarRegex(i), unwrapOptional(concrete.Get(i))) {
				return false
			}
		case bVar:
			if !varMatches(concrete.VarRegex(i), unwrapOptional(p.Get(i))) {
				return false
			}
		default:
			if !segmentMatches(unwrapOptional(p.Get(i)), unwrapOptional(concrete.Get(i))) {
				return false
			}
		}
	}
	return true
}

// segmentMatches compares two segments case-insensitively. A '*' embedded in
// either segment globs within that segment only, so an exclude rule like
// "aaa*" covers "aaa123" without being a full trailing wildcard.
func segmentMatches(a, b string) bool {
	if strings.ContainsRune(a, '*') {
		return globMatches(a, b)
	}
	if strings.ContainsRune(b, '*') {
		return globMatches(b, a)
	}
	return strings.EqualFold(a, b)
}

func globMatches(pattern, value string) bool {
	parts := strings.Split(strings.ToLower(pattern), "*")
	value = strings.ToLower(value)
	for i, part := range parts {
		switch {
		case part == "":
			continue
		case i == 0:
			if !strings.HasPrefix(value, part) {
				return false
			}
			value = value[len(part):]
		case i == len(parts)-1:
			if !strings.HasSuffix(value, part) {
				return false
			}
			value = value[:len(value)-len(part)]
		default:
			j := strings.Index(value, part)
			if j < 0 {
				return false
			}
			value = value[j+len(part):]
		}
	}
	return true
}

func varMatches(regex, value string) bool {
	if regex == "" {
		return true
	}
	re, err := regexp.Compile("(?i)^(" + regex + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Extract walks this rule path against concrete, consuming matched leading
// segments from *concrete and binding variable names into params. It returns
// the consumed sub-path.
//
// The walk stops at a wildcard segment: the remaining concrete path is left
// for a later rule to match. In non-greedy mode consumption also stops at the
// first optional segment, but variables in the optional tail are still bound
// by looking ahead into the unconsumed remainder, so overlapping rules can
// each inspect the same tail. Variables this path declares beyond the end of
// the concrete path are explicitly bound to "" rather than left absent.
func (p Path) Extract(params map[string]string, concrete *Path, greedy bool) (Path, error) {
	matched := Path{}
	rest := *concrete
	i := 0

	for ; i < len(p) && len(rest) > 0; i++ {
		if p.IsWildcard(i) {
			break
		}
		if !greedy && p.IsOptional(i) {
			break
		}
		val := rest[0]
		if p.IsVar(i) {
			if !varMatches(p.VarRegex(i), val) {
				return nil, &ParseError{fmt.Sprintf("path segment %q does not match variable %q", val, p.Get(i))}
			}
			params[p.VarName(i)] = val
		}
		rest = rest[1:]
		matched = append(matched, val)
	}

	// bind the optional/unconsumed tail without consuming it
	for j, k := i, 0; j < len(p); j++ {
		if p.IsWildcard(j) {
			break
		}
		if !p.IsVar(j) {
			k++
			continue
		}
		val := ""
		if k < len(rest) {
			val = rest[k]
			if !varMatches(p.VarRegex(j), val) {
				return nil, &ParseError{fmt.Sprintf("path segment %q does not match variable %q", val, p.Get(j))}
			}
		}
		params[p.VarName(j)] = val
		k++
	}

	*concrete = rest
	return matched, nil
}

// SubPaths expands a path containing optional segments into the set of valid
// breakpoints, one path per point where the path could legitimately end. A
// path with no optional segments expands to itself.
func (p Path) SubPaths() []Path {
	firstOptional := len(p)
	for i := range p {
		if p.IsOptional(i) || p.IsWildcard(i) {
			firstOptional = i
			break
		}
	}
	if firstOptional == len(p) {
		return []Path{append(Path{}, p...)}
	}

	out := []Path{}
	for end := firstOptional; end <= len(p); end++ {
		sub := Path{}
		for i := 0; i < end; i++ {
			sub = append(sub, unwrapOptional(p[i]))
		}
		out = append(out, sub)
		if end < len(p) && p.IsWildcard(end) {
			out = append(out, append(append(Path{}, sub...), "*"))
			break
		}
	}
	return out
}
