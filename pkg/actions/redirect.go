package actions

import (
	"context"
	"net/http"

	"github.com/lodeworks/lode/pkg/engine"
)

// RedirectAction answers with a permanent redirect to a configured location.
// The location may come from the constructor or from the "location" config
// entry on any enclosing scope.
type RedirectAction struct {
	location string
}

// NewRedirectAction wraps a RedirectAction in an engine action at order 100.
func NewRedirectAction(location string) *engine.Action {
	return engine.NewAction("redirect", &RedirectAction{location: location}).WithOrder(100)
}

// Run implements engine.Handler.
func (a *RedirectAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	location := a.location
	if location == "" {
		location = ch.GetString("location")
	}
	if location == "" {
		return engine.NotFound("no redirect location configured")
	}
	res.WithRedirect(http.StatusPermanentRedirect, location)
	ch.Cancel()
	return nil
}
