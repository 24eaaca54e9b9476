// Package engine implements the request-matching and action-chain execution
// core: an inbound method+URL is matched against Api, Endpoint, Collection
// and Action rules, producing an ordered, cancelable chain of actions driven
// to completion on the calling goroutine.
package engine

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lodeworks/lode/pkg/contextkeys"
	"github.com/lodeworks/lode/pkg/observability"
	"github.com/lodeworks/lode/pkg/path"
)

// Listener observes request dispatch for audit and test hooks.
type Listener interface {
	OnStart(req *Request)
	OnFinish(req *Request, res *Response)
	OnError(req *Request, err error)
}

// Engine is the top-level dispatcher. The api list is guarded for concurrent
// reload; everything per-request is built fresh, so unrelated concurrent
// requests never observe each other's blackboard, user or cancellation
// state.
type Engine struct {
	mu             sync.RWMutex
	apis           []*Api
	containerPaths []path.Path

	listeners []Listener
	logger    *observability.Logger
	metrics   *observability.Metrics

	corsOrigin string

	lastMu       sync.Mutex
	lastResponse *Response
}

// New creates an engine with no container-path prefix and a default logger.
func New() *Engine {
	return &Engine{
		containerPaths: []path.Path{{}},
		logger:         observability.NewLogger(observability.InfoLevel, nil),
		corsOrigin:     "*",
	}
}

// WithLogger sets the framework logger.
func (e *Engine) WithLogger(logger *observability.Logger) *Engine {
	e.logger = logger
	return e
}

// WithMetrics installs prometheus metrics recording.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithListener registers a dispatch listener.
func (e *Engine) WithListener(l Listener) *Engine {
	e.listeners = append(e.listeners, l)
	return e
}

// WithCorsOrigin sets the allowed CORS origin (default "*").
func (e *Engine) WithCorsOrigin(origin string) *Engine {
	e.corsOrigin = origin
	return e
}

// WithContainerPath configures the path prefix the HTTP container mounts the
// engine under; it is stripped before api matching. May be called multiple
// times for multi-mount deployments.
func (e *Engine) WithContainerPath(raw string) (*Engine, error) {
	p, err := path.Parse(raw)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.containerPaths) == 1 && len(e.containerPaths[0]) == 0 {
		e.containerPaths = nil
	}
	e.containerPaths = append(e.containerPaths, p)
	return e, nil
}

// AddApi registers an api.
func (e *Engine) AddApi(api *Api) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apis = append(e.apis, api)
}

// RemoveApi unregisters an api by name.
func (e *Engine) RemoveApi(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, api := range e.apis {
		if api.Rule.Name == name {
			e.apis = append(e.apis[:i], e.apis[i+1:]...)
			return
		}
	}
}

// ReplaceApis swaps the whole api list, used by configuration hot-reload.
func (e *Engine) ReplaceApis(apis []*Api) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apis = apis
}

// Apis returns a snapshot of the registered apis.
func (e *Engine) Apis() []*Api {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Api{}, e.apis...)
}

// LastResponse returns the most recently completed response, for tests.
func (e *Engine) LastResponse() *Response {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.lastResponse
}

// Service dispatches a top-level request and returns the finished response.
func (e *Engine) Service(req *Request) *Response {
	return e.ServiceWithParent(req, nil)
}

// ServiceWithParent dispatches a request whose chain links to parent.
// Actions issuing nested sub-requests pass their own chain so the child
// inherits user, debug state and config fallback. Nested calls run
// synchronously on the calling goroutine.
func (e *Engine) ServiceWithParent(req *Request, parent *Chain) *Response {
	res := NewResponse()
	ch := newChain(e, req, res, parent)
	ctx := context.WithValue(req.Context(), contextkeys.ChainKey, ch)
	req.WithContext(ctx)
	start := time.Now()

	if parent != nil && e.metrics != nil {
		e.metrics.NestedRequests.Inc()
	}
	for _, l := range e.listeners {
		l.OnStart(req)
	}

	err := e.service(ctx, ch, req, res)
	if err != nil {
		res.WithError(err)
		for _, l := range e.listeners {
			l.OnError(req, err)
		}
		// full detail is logged once, at the top of the nested-chain stack,
		// so recursive sub-requests do not double-log
		if statusOf(err) >= http.StatusInternalServerError && ch.Depth() == 1 {
			e.logger.WithError(err).
				WithField("method", req.Method).
				WithField("url", req.URL.String()).
				Error("internal error during dispatch")
		}
	}

	// the response must always be finalized, even when serialization of an
	// earlier body failed: request isolation over error propagation
	if serr := res.Serialize(); serr != nil {
		e.logger.WithError(serr).Error("response serialization failed")
		res.Json = map[string]interface{}{"status": http.StatusInternalServerError}
		res.Status = http.StatusInternalServerError
		_ = res.Serialize()
	}
	for _, l := range e.listeners {
		l.OnFinish(req, res)
	}
	if e.metrics != nil {
		apiName := ""
		if req.Api != nil {
			apiName = req.Api.Rule.Name
		}
		e.metrics.ObserveRequest(req.Method, apiName, res.Status, time.Since(start))
	}

	e.lastMu.Lock()
	e.lastResponse = res
	e.lastMu.Unlock()
	return res
}

// service runs the routing state machine:
// ROUTING -> ENDPOINT_MATCHED -> ACTIONS_BUILT -> RUNNING.
func (e *Engine) service(ctx context.Context, ch *Chain, req *Request, res *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewApiError(http.StatusInternalServerError, "panic in action: %v", r)
		}
	}()

	e.applyCors(res)
	if req.Method == http.MethodOptions {
		// CORS preflight: no routing
		res.WithStatus(http.StatusOK)
		return nil
	}

	reqPath, err := req.Path()
	if err != nil {
		return BadRequest("invalid request path: %v", err)
	}

	pathParams := map[string]string{}

	remaining, ok := e.stripContainerPath(reqPath)
	if !ok {
		e.countRoutingFailure("container")
		return BadRequest("request path %q is outside every configured container path", reqPath.String())
	}

	// Api match
	apiRemaining := remaining
	req.Api = e.matchApi(req.Method, remaining)
	if req.Api == nil {
		e.countRoutingFailure("api")
		return BadRequest("no api matches %s %q", req.Method, reqPath.String())
	}
	if _, err := req.Api.Base.Extract(pathParams, &apiRemaining, true); err != nil {
		return err
	}

	// Endpoint match; internal endpoints are only reachable from nested
	// sub-requests
	epRemaining := apiRemaining
	for _, ep := range req.Api.Endpoints {
		if ep.Internal && ch.Depth() < 2 {
			continue
		}
		if ep.Rule.Matches(req.Method, apiRemaining) {
			req.Endpoint = ep
			break
		}
	}
	if req.Endpoint == nil {
		e.countRoutingFailure("endpoint")
		return NotFound("no endpoint in api %q matches %s %q; configured endpoints: %s",
			req.Api.Rule.Name, req.Method, apiRemaining.String(), e.describeEndpoints(req.Api))
	}
	if _, err := req.Endpoint.Base.Extract(pathParams, &epRemaining, true); err != nil {
		return err
	}

	// Collection resolution from the endpoint-relative remainder
	req.CollectionKey = epRemaining.Get(0)
	req.EntityKey = epRemaining.Get(1)
	req.SubCollectionKey = epRemaining.Get(2)
	if req.CollectionKey != "" {
		if _, coll := req.Api.FindCollection(req.CollectionKey); coll != nil {
			req.Collection = coll
		}
		pathParams["collection"] = req.CollectionKey
	}
	if req.EntityKey != "" {
		pathParams["entity"] = req.EntityKey
	}
	if req.SubCollectionKey != "" {
		pathParams["relationship"] = req.SubCollectionKey
	}

	// path variables reach query params and the JSON body uniformly
	for k, v := range pathParams {
		if _, exists := req.Params[k]; !exists {
			req.Params[k] = v
		}
	}
	if err := req.MergeParamsIntoBody(pathParams); err != nil {
		return err
	}

	// two-pass action collection: endpoint-scoped against the post-endpoint
	// remainder, then api-scoped filters against the post-api remainder
	var matches []*ActionMatch
	for _, act := range req.Endpoint.Actions {
		if act.Rule.Matches(req.Method, epRemaining) {
			m, err := matchAction(act, epRemaining)
			if err != nil {
				return err
			}
			matches = append(matches, m)
		}
	}
	for _, act := range req.Api.Actions {
		if act.Rule.Matches(req.Method, apiRemaining) {
			m, err := matchAction(act, apiRemaining)
			if err != nil {
				return err
			}
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		// endpoint matched but nothing to run is a server misconfiguration;
		// surfaced as 404 rather than 500 to avoid leaking internals
		e.countRoutingFailure("action")
		return NotFound("no action matches %s %q", req.Method, reqPath.String())
	}

	// stable sort: declaration order breaks ties
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Action.Rule.Order < matches[j].Action.Rule.Order
	})

	ch.withActions(matches)
	if err := ch.Go(ctx); err != nil {
		return err
	}
	if ch.IsCanceled() && e.metrics != nil {
		name := ""
		if cur := ch.Current(); cur != nil {
			name = cur.Action.Rule.Name
		}
		e.metrics.ChainCancellations.WithLabelValues(name).Inc()
	}
	return nil
}

// matchAction captures the path state at match time. Matching is non-greedy
// so overlapping rules each see the same unconsumed tail.
func matchAction(act *Action, remaining path.Path) (*ActionMatch, error) {
	atMatch := append(path.Path{}, remaining...)
	consumable := append(path.Path{}, remaining...)
	params := map[string]string{}

	matched := path.Path{}
	for _, inc := range act.Rule.Include {
		if inc.Matches(remaining) {
			m, err := inc.Extract(params, &consumable, false)
			if err != nil {
				return nil, err
			}
			matched = m
			break
		}
	}
	return &ActionMatch{Action: act, MatchedPath: matched, PathAtMatch: atMatch, Params: params}, nil
}

func (e *Engine) applyCors(res *Response) {
	res.Headers.Set("Access-Control-Allow-Origin", e.corsOrigin)
	res.Headers.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	res.Headers.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
}

func (e *Engine) stripContainerPath(reqPath path.Path) (path.Path, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cp := range e.containerPaths {
		if len(cp) == 0 {
			return reqPath, true
		}
		if len(reqPath) < len(cp) {
			continue
		}
		withWildcard, err := cp.Add("*")
		if err != nil {
			continue
		}
		if withWildcard.Matches(reqPath) {
			return reqPath.Sub(len(cp)), true
		}
	}
	return nil, false
}

func (e *Engine) matchApi(method string, p path.Path) *Api {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, api := range e.apis {
		if api.Rule.Matches(method, p) {
			return api
		}
	}
	return nil
}

func (e *Engine) describeEndpoints(api *Api) string {
	out := ""
	for i, ep := range api.Endpoints {
		if i > 0 {
			out += "; "
		}
		out += ep.Rule.Describe()
	}
	return out
}

func (e *Engine) countRoutingFailure(stage string) {
	if e.metrics != nil {
		e.metrics.RoutingFailures.WithLabelValues(stage).Inc()
	}
}
