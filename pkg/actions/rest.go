package actions

import (
	"context"
	"net/http"
	"strings"

	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/rql"
	"github.com/lodeworks/lode/pkg/rqlcache"
)

// routingParams are the path-variable names the engine injects during
// dispatch. They describe routing, not row filters, so the statement builder
// must never see them.
var routingParams = map[string]bool{
	"collection":   true,
	"entity":       true,
	"relationship": true,
}

// RestAction serves GET reads for the routed collection: it builds an rql
// statement from the query parameters, scopes it to the entity key when one
// is present, executes it through the api's backend and renders a meta/data
// envelope.
type RestAction struct {
	cache *rqlcache.Cache

	// keyColumn names the column an entity key filters on. Overridable per
	// scope through the "keyColumn" config entry.
	keyColumn string
}

// NewRestAction wraps a RestAction in a GET-only engine action at order 100.
func NewRestAction() *engine.Action {
	return engine.NewAction("rest", &RestAction{keyColumn: "id"}).
		WithOrder(100).
		WithMethods("GET")
}

// NewCachedRestAction is NewRestAction with a shared statement cache.
func NewCachedRestAction(cache *rqlcache.Cache) *engine.Action {
	return engine.NewAction("rest", &RestAction{cache: cache, keyColumn: "id"}).
		WithOrder(100).
		WithMethods("GET")
}

// Run implements engine.Handler.
func (a *RestAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	if req.Api == nil || req.CollectionKey == "" {
		return engine.NotFound("no collection in request path")
	}
	db, coll := req.Api.FindCollection(req.CollectionKey)
	if db == nil {
		return engine.NotFound("unknown collection %q", req.CollectionKey)
	}
	req.Collection = coll

	stmt, err := a.buildStmt(req, coll)
	if err != nil {
		return engine.BadRequest("invalid query: %v", err)
	}

	if req.EntityKey != "" {
		keyCol := a.keyColumn
		if configured := ch.GetString("keyColumn"); configured != "" {
			keyCol = configured
		}
		stmt.Where = append(stmt.Where,
			rql.NewPredicate("eq", rql.Leaf(keyCol), rql.Leaf(req.EntityKey)))
	}

	rows, err := db.Select(ctx, coll, stmt)
	if err != nil {
		return err
	}

	meta := map[string]interface{}{
		"collection": coll.Name,
		"count":      len(rows),
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}

	if req.EntityKey != "" {
		if len(rows) == 0 {
			return engine.NotFound("no %s with %s %q", coll.Name, a.keyColumn, req.EntityKey)
		}
		res.WithStatus(http.StatusOK).WithJson(map[string]interface{}{
			"meta": meta,
			"data": rows[0],
		})
		return nil
	}

	res.WithStatus(http.StatusOK).WithJson(map[string]interface{}{
		"meta": meta,
		"data": rows,
	})
	return nil
}

// buildStmt assembles the statement from the non-routing query parameters,
// going through the cache when one is attached. Collections carrying an
// authored base query expand it from the request params first; those
// statements bake request-specific values in and are keyed per collection, so
// they bypass the shared cache.
func (a *RestAction) buildStmt(req *engine.Request, coll *engine.Collection) (*rql.Stmt, error) {
	params := make(map[string]string, len(req.Params))
	for k, v := range req.Params {
		if routingParams[strings.ToLower(k)] {
			continue
		}
		params[k] = v
	}
	if coll.Query != "" {
		return rql.BuildStmtWithBase(coll.Query, params)
	}
	if a.cache != nil {
		return a.cache.Stmt(params)
	}
	return rql.BuildStmt(params)
}
