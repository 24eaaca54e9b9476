package engine

import (
	"context"

	"github.com/lodeworks/lode/pkg/contextkeys"
)

// Chain is the ordered, cancelable sequence of matched actions for one
// request, plus its shared per-request state: a blackboard map for
// action-to-action data passing and the resolved user.
//
// There is no thread-local registry. The current chain rides the request's
// context under contextkeys.ChainKey, and nested sub-requests link to their
// parent chain explicitly, which makes re-entrancy and cancellation
// observable in tests.
type Chain struct {
	engine   *Engine
	request  *Request
	response *Response

	actions  []*ActionMatch
	next     int
	canceled bool

	vars   map[string]interface{}
	user   *User
	parent *Chain
}

func newChain(e *Engine, req *Request, res *Response, parent *Chain) *Chain {
	return &Chain{
		engine:   e,
		request:  req,
		response: res,
		vars:     map[string]interface{}{},
		parent:   parent,
	}
}

// FromContext retrieves the chain installed on ctx by the engine, or nil.
func FromContext(ctx context.Context) *Chain {
	ch, _ := ctx.Value(contextkeys.ChainKey).(*Chain)
	return ch
}

// Engine returns the engine driving this chain.
func (c *Chain) Engine() *Engine { return c.engine }

// Request returns the request being processed.
func (c *Chain) Request() *Request { return c.request }

// Response returns the response being built.
func (c *Chain) Response() *Response { return c.response }

// Parent returns the parent chain for nested sub-requests, or nil at the
// top.
func (c *Chain) Parent() *Chain { return c.parent }

// Depth returns 1 for a top-level chain, increasing by one per nesting
// level.
func (c *Chain) Depth() int {
	depth := 1
	for p := c.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

// Cancel short-circuits the chain: no further actions run. Cancellation is
// cooperative and only checked between action invocations.
func (c *Chain) Cancel() { c.canceled = true }

// IsCanceled reports whether the chain was canceled.
func (c *Chain) IsCanceled() bool { return c.canceled }

// Current returns the action match being run, or nil before Go.
func (c *Chain) Current() *ActionMatch {
	if c.next == 0 || c.next > len(c.actions) {
		return nil
	}
	return c.actions[c.next-1]
}

// Go drives the chain from the start.
func (c *Chain) Go(ctx context.Context) error {
	return c.Next(ctx)
}

// Next runs the remaining actions in order, stopping early when the chain is
// canceled. An action that wants the rest of the chain to run before its own
// post-processing calls Next itself and does its work after it returns.
func (c *Chain) Next(ctx context.Context) error {
	for !c.canceled && c.next < len(c.actions) {
		match := c.actions[c.next]
		c.next++
		if m := c.engine.metrics; m != nil {
			m.ActionsRun.WithLabelValues(match.Action.Rule.Name).Inc()
		}
		if err := match.Action.Handler.Run(ctx, c, c.request, c.response); err != nil {
			return err
		}
	}
	return nil
}

// Put stores a value on the chain's blackboard.
func (c *Chain) Put(key string, value interface{}) {
	c.vars[key] = value
}

// Get retrieves a blackboard value with hierarchical fallback: this chain's
// blackboard, then parent chains, then the current action's path-variable
// bindings and static config, then the endpoint's and api's config.
func (c *Chain) Get(key string) interface{} {
	for ch := c; ch != nil; ch = ch.parent {
		if v, ok := ch.vars[key]; ok {
			return v
		}
	}
	if cur := c.Current(); cur != nil {
		if v, ok := cur.Params[key]; ok {
			return v
		}
		if v, ok := cur.Action.Rule.Config[key]; ok {
			return v
		}
	}
	if c.request != nil {
		if c.request.Endpoint != nil {
			if v, ok := c.request.Endpoint.Rule.Config[key]; ok {
				return v
			}
		}
		if c.request.Api != nil {
			if v, ok := c.request.Api.Rule.Config[key]; ok {
				return v
			}
		}
	}
	return nil
}

// GetString returns a blackboard/config value as a string, or "".
func (c *Chain) GetString(key string) string {
	if v, ok := c.Get(key).(string); ok {
		return v
	}
	return ""
}

// SetUser sets the authenticated user for this chain.
func (c *Chain) SetUser(u *User) { c.user = u }

// User walks from this chain up through parent links until a non-nil user is
// found: nested sub-requests inherit the outer request's identity unless
// they set their own.
func (c *Chain) User() *User {
	for ch := c; ch != nil; ch = ch.parent {
		if ch.user != nil {
			return ch.user
		}
	}
	return nil
}

// withActions installs the sorted action matches. Called once by the engine
// before Go.
func (c *Chain) withActions(matches []*ActionMatch) {
	c.actions = matches
	c.next = 0
}
