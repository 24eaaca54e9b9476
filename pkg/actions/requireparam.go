package actions

import (
	"context"
	"strings"

	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/rql"
)

// RequireParamAction enforces that a named parameter constrains the request:
// either as a plain query/path parameter or as an eq() filter anywhere in the
// RQL clauses. Detection parses the clauses rather than substring-matching,
// so "id" is not satisfied by a filter on "orderid".
type RequireParamAction struct {
	name string
}

// NewRequireParamAction wraps a RequireParamAction in an engine action at
// order 30.
func NewRequireParamAction(name string) *engine.Action {
	return engine.NewAction("require-"+name, &RequireParamAction{name: name}).WithOrder(30)
}

// Run implements engine.Handler.
func (a *RequireParamAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	if req.Param(a.name) != "" {
		return nil
	}
	if a.constrainedByFilter(req.Params) {
		return nil
	}
	ch.Cancel()
	return engine.BadRequest("missing required parameter %q", a.name)
}

// constrainedByFilter reports whether any parseable RQL clause carries an
// eq() on the required column. Unparseable clauses are skipped here; the
// statement builder reports them properly later.
func (a *RequireParamAction) constrainedByFilter(params map[string]string) bool {
	parser := rql.NewParser()
	for key, value := range params {
		lower := strings.ToLower(key)
		if rql.IsExcludedParam(lower) {
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
			continue
		default:
			clause = key + "=" + value
		}

		preds, err := parser.ParseAll(clause)
		if err != nil {
			continue
		}
		for _, pred := range preds {
			if a.hasEq(pred) {
				return true
			}
		}
	}
	return false
}

func (a *RequireParamAction) hasEq(pred *rql.Predicate) bool {
	if pred.IsLeaf() {
		return false
	}
	tok := strings.ToLower(rql.Unquote(pred.Token))
	if tok == "eq" && pred.Term(0) != nil && strings.EqualFold(pred.Term(0).Unquoted(), a.name) {
		return true
	}
	for _, term := range pred.Terms {
		if a.hasEq(term) {
			return true
		}
	}
	return false
}
