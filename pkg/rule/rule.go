// Package rule provides the shared matching contract composed into Apis,
// Endpoints and Actions: an HTTP-method filter plus include/exclude path
// lists and a relative order.
//
// There is deliberately no inheritance here. MatchRule is a value struct the
// concrete entities embed; matching and extraction are plain methods.
package rule

import (
	"sort"
	"strings"

	"github.com/lodeworks/lode/pkg/path"
)

// MatchRule decides whether a (method, path) pair is in scope for an entity.
//
// Matches is true iff the method is allowed AND the path matches at least one
// include rule (an empty include list matches everything) AND the path
// matches no exclude rule.
type MatchRule struct {
	Name    string
	Order   int
	Methods map[string]bool
	Include []path.Path
	Exclude []path.Path
	Config  map[string]string
}

// New creates a MatchRule matching all methods and all paths.
func New(name string) *MatchRule {
	return &MatchRule{
		Name:    name,
		Methods: map[string]bool{},
		Config:  map[string]string{},
	}
}

// WithOrder sets the relative priority; lower runs first.
func (r *MatchRule) WithOrder(order int) *MatchRule {
	r.Order = order
	return r
}

// WithMethods restricts the rule to the given HTTP verbs. "*" or "all" clears
// the restriction.
func (r *MatchRule) WithMethods(methods ...string) *MatchRule {
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if m == "*" || m == "ALL" {
			r.Methods = map[string]bool{}
			return r
		}
		r.Methods[m] = true
	}
	return r
}

// WithIncludePaths appends include path rules.
func (r *MatchRule) WithIncludePaths(raws ...string) (*MatchRule, error) {
	for _, raw := range raws {
		p, err := path.Parse(raw)
		if err != nil {
			return nil, err
		}
		r.Include = append(r.Include, p)
	}
	return r, nil
}

// WithExcludePaths appends exclude path rules.
func (r *MatchRule) WithExcludePaths(raws ...string) (*MatchRule, error) {
	for _, raw := range raws {
		p, err := path.Parse(raw)
		if err != nil {
			return nil, err
		}
		r.Exclude = append(r.Exclude, p)
	}
	return r, nil
}

// WithConfig sets a config entry.
func (r *MatchRule) WithConfig(key, value string) *MatchRule {
	r.Config[key] = value
	return r
}

// AllowsMethod reports whether the rule's method filter admits method. An
// empty filter admits everything.
func (r *MatchRule) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	return r.Methods[strings.ToUpper(method)]
}

// Matches reports whether the method and concrete path are in scope.
func (r *MatchRule) Matches(method string, concrete path.Path) bool {
	if !r.AllowsMethod(method) {
		return false
	}
	for _, ex := range r.Exclude {
		if ex.Matches(concrete) {
			return false
		}
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, in := range r.Include {
		if in.Matches(concrete) {
			return true
		}
	}
	return false
}

// MethodList returns the allowed methods sorted for diagnostics, or "*" when
// unrestricted.
func (r *MatchRule) MethodList() string {
	if len(r.Methods) == 0 {
		return "*"
	}
	methods := make([]string, 0, len(r.Methods))
	for m := range r.Methods {
		methods = append(methods, m)
	}
	// map order is random; keep diagnostics stable
	sort.Strings(methods)
	return strings.Join(methods, ",")
}

// Describe renders the rule for routing diagnostics.
func (r *MatchRule) Describe() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteString(" [")
	b.WriteString(r.MethodList())
	b.WriteString("] include=")
	b.WriteString(joinPaths(r.Include))
	if len(r.Exclude) > 0 {
		b.WriteString(" exclude=")
		b.WriteString(joinPaths(r.Exclude))
	}
	return b.String()
}

func joinPaths(paths []path.Path) string {
	if len(paths) == 0 {
		return "*"
	}
	strs := make([]string, len(paths))
	for i, p := range paths {
		strs[i] = p.String()
	}
	return strings.Join(strs, ",")
}

// ReconcileBase builds the include list for a rule declared with a base path
// and an optional explicit include list.
//
// A bare base path implies a trailing "/*". When explicit includes are also
// supplied, that implied wildcard is stripped before prefixing so the rule is
// not double-wildcarded: the base scopes, the includes enumerate. This is a
// deliberate, test-asserted reconciliation, not an accidental default.
func ReconcileBase(base string, includes []string) ([]path.Path, error) {
	basePath, err := path.Parse(base)
	if err != nil {
		return nil, err
	}
	if len(basePath) > 0 && basePath[len(basePath)-1] == "*" {
		basePath = basePath[:len(basePath)-1]
	}

	if len(includes) == 0 {
		full, err := basePath.Add("*")
		if err != nil {
			return nil, err
		}
		return []path.Path{full}, nil
	}

	out := make([]path.Path, 0, len(includes))
	for _, inc := range includes {
		p, err := basePath.Add(inc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
