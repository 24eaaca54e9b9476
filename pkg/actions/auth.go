// Package actions ships the stock chain actions: authentication, ACL checks,
// required-parameter validation, access logging, the REST data action and
// configured redirects. Each is an engine.Handler wrapped in an Action with a
// conventional order so endpoints can mix stock and custom logic freely.
package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/sessions"
)

// SchemeKind tags the supported authentication schemes.
type SchemeKind int

const (
	// SchemeBearer reads an Authorization: Bearer token.
	SchemeBearer SchemeKind = iota
	// SchemeApiKey reads a key from a header or query parameter.
	SchemeApiKey
)

// Scheme describes where credentials arrive. Exactly the fields for its Kind
// are meaningful.
type Scheme struct {
	Kind SchemeKind

	// Format documents the bearer token format ("opaque", "jwt"). Informational.
	Format string

	// Location is "header" or "query" for api-key schemes.
	Location string
	// ParamName is the header or query parameter carrying the api key.
	ParamName string
}

// AuthAction resolves request credentials to a user through a session store
// and installs it on the chain. Missing or unknown credentials cancel the
// chain with a 401; a credential presented under a scheme the endpoint does
// not support is a 400.
type AuthAction struct {
	scheme Scheme
	store  sessions.Store
}

// NewAuthAction wraps an AuthAction in an engine action at order 10.
func NewAuthAction(scheme Scheme, store sessions.Store) *engine.Action {
	return engine.NewAction("auth", &AuthAction{scheme: scheme, store: store}).WithOrder(10)
}

// Run implements engine.Handler.
func (a *AuthAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	token, err := a.credential(req)
	if err != nil {
		ch.Cancel()
		return err
	}
	if token == "" {
		ch.Cancel()
		return engine.Unauthorized("missing credentials")
	}

	user, err := a.store.Lookup(ctx, token)
	if errors.Is(err, sessions.ErrNotFound) {
		ch.Cancel()
		return engine.Unauthorized("invalid or expired session")
	}
	if err != nil {
		return err
	}

	ch.SetUser(user)
	return nil
}

// credential extracts the raw token for the configured scheme.
func (a *AuthAction) credential(req *engine.Request) (string, error) {
	switch a.scheme.Kind {
	case SchemeBearer:
		raw := req.Headers.Get("Authorization")
		if raw == "" {
			return "", nil
		}
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", engine.BadRequest("unsupported authorization scheme")
		}
		return strings.TrimSpace(parts[1]), nil

	case SchemeApiKey:
		switch a.scheme.Location {
		case "header":
			return req.Headers.Get(a.scheme.ParamName), nil
		case "query":
			return req.Param(a.scheme.ParamName), nil
		}
		return "", engine.BadRequest("unsupported api-key location %q", a.scheme.Location)
	}
	return "", engine.BadRequest("unsupported authorization scheme")
}
