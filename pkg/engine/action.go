package engine

import (
	"context"

	"github.com/lodeworks/lode/pkg/path"
	"github.com/lodeworks/lode/pkg/rule"
)

// Handler is a unit of request-processing logic, analogous to HTTP
// middleware. Handlers run in chain order; a handler may inspect and mutate
// the response, cancel the chain, or dispatch nested sub-requests through
// the engine.
type Handler interface {
	Run(ctx context.Context, ch *Chain, req *Request, res *Response) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ch *Chain, req *Request, res *Response) error

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, ch *Chain, req *Request, res *Response) error {
	return f(ctx, ch, req, res)
}

// Action couples a Handler with the match rule that scopes it to methods and
// paths.
type Action struct {
	Rule    rule.MatchRule
	Handler Handler
}

// NewAction creates an action named name running handler, matching all
// methods and paths until restricted.
func NewAction(name string, handler Handler) *Action {
	return &Action{Rule: *rule.New(name), Handler: handler}
}

// WithOrder sets the action's relative order; lower runs first.
func (a *Action) WithOrder(order int) *Action {
	a.Rule.WithOrder(order)
	return a
}

// WithMethods restricts the action to the given HTTP verbs.
func (a *Action) WithMethods(methods ...string) *Action {
	a.Rule.WithMethods(methods...)
	return a
}

// WithIncludePaths appends include path rules.
func (a *Action) WithIncludePaths(raws ...string) (*Action, error) {
	if _, err := a.Rule.WithIncludePaths(raws...); err != nil {
		return nil, err
	}
	return a, nil
}

// WithExcludePaths appends exclude path rules.
func (a *Action) WithExcludePaths(raws ...string) (*Action, error) {
	if _, err := a.Rule.WithExcludePaths(raws...); err != nil {
		return nil, err
	}
	return a, nil
}

// WithConfig sets an action config entry, readable through the chain's
// hierarchical Get.
func (a *Action) WithConfig(key, value string) *Action {
	a.Rule.WithConfig(key, value)
	return a
}

// ActionMatch is one matched action plus the path state captured at match
// time: the sub-path the action's rule consumed, the remaining path as it
// stood when the action matched, and the variables the rule's include path
// bound. Overlapping endpoint- and api-scoped rules each keep their own view
// of the same tail, so two rules can bind the same variable name to different
// segments without clashing; the chain's Get resolves against the running
// action's bindings.
type ActionMatch struct {
	Action      *Action
	MatchedPath path.Path
	PathAtMatch path.Path
	Params      map[string]string
}
