package engine

import (
	"context"
	"strings"

	"github.com/lodeworks/lode/pkg/path"
	"github.com/lodeworks/lode/pkg/rql"
	"github.com/lodeworks/lode/pkg/rule"
)

// Api is a named group of endpoints, cross-cutting actions and backend
// databases mounted at a base path.
type Api struct {
	Rule      rule.MatchRule
	Base      path.Path
	Endpoints []*Endpoint
	Actions   []*Action
	Dbs       []Db
}

// NewApi creates an Api mounted at base (its name defaults to the base
// path's first segment).
func NewApi(base string) (*Api, error) {
	basePath, err := path.Parse(base)
	if err != nil {
		return nil, err
	}
	includes, err := rule.ReconcileBase(base, nil)
	if err != nil {
		return nil, err
	}
	r := rule.New(basePath.First())
	r.Include = includes
	return &Api{Rule: *r, Base: basePath}, nil
}

// WithEndpoint adds an endpoint.
func (a *Api) WithEndpoint(ep *Endpoint) *Api {
	a.Endpoints = append(a.Endpoints, ep)
	return a
}

// WithAction adds an api-scoped action; it behaves like a cross-cutting
// filter matched against the post-api remaining path.
func (a *Api) WithAction(act *Action) *Api {
	a.Actions = append(a.Actions, act)
	return a
}

// WithDb adds a backend database.
func (a *Api) WithDb(db Db) *Api {
	a.Dbs = append(a.Dbs, db)
	return a
}

// Endpoint is a routable scope within an Api: a base path plus include and
// exclude rules, carrying its own ordered actions.
type Endpoint struct {
	Rule     rule.MatchRule
	Base     path.Path
	Actions  []*Action
	Internal bool
}

// NewEndpoint creates an endpoint at base with optional explicit includes,
// restricted to the given methods ("*" for all). The base/include
// reconciliation quirk applies: a bare base implies "/*", stripped when
// explicit includes are supplied.
func NewEndpoint(name, methods, base string, includes ...string) (*Endpoint, error) {
	basePath, err := path.Parse(base)
	if err != nil {
		return nil, err
	}
	if len(basePath) > 0 && basePath[len(basePath)-1] == "*" {
		basePath = basePath[:len(basePath)-1]
	}
	reconciled, err := rule.ReconcileBase(base, includes)
	if err != nil {
		return nil, err
	}
	r := rule.New(name).WithMethods(strings.Split(methods, ",")...)
	r.Include = reconciled
	return &Endpoint{Rule: *r, Base: basePath}, nil
}

// WithExcludePaths appends endpoint-relative exclude rules.
func (e *Endpoint) WithExcludePaths(raws ...string) (*Endpoint, error) {
	for _, raw := range raws {
		p, err := e.Base.Add(raw)
		if err != nil {
			return nil, err
		}
		e.Rule.Exclude = append(e.Rule.Exclude, p)
	}
	return e, nil
}

// WithAction adds an endpoint-scoped action.
func (e *Endpoint) WithAction(act *Action) *Endpoint {
	e.Actions = append(e.Actions, act)
	return e
}

// WithInternal marks the endpoint as reachable only from nested
// sub-requests.
func (e *Endpoint) WithInternal(internal bool) *Endpoint {
	e.Internal = internal
	return e
}

// Collection is a named, routable resource set backed by one table, index or
// document type within a Db. Query, when set, is a pre-authored base
// statement applied before the request's own parameters; ${name} placeholders
// in it are filled from request params.
type Collection struct {
	Name  string
	Table string
	Query string
}

// Db is a backend connector exposing collections to the engine. Renderers
// and wire clients live behind this interface; the engine only routes to
// collections and delegates statement execution.
type Db interface {
	Name() string
	Collections() []*Collection
	Select(ctx context.Context, coll *Collection, stmt *rql.Stmt) ([]map[string]interface{}, error)
}

// FindCollection locates a collection by key across the api's dbs,
// case-insensitively. Returns the owning db as well.
func (a *Api) FindCollection(key string) (Db, *Collection) {
	for _, db := range a.Dbs {
		for _, coll := range db.Collections() {
			if strings.EqualFold(coll.Name, key) {
				return db, coll
			}
		}
	}
	return nil, nil
}
