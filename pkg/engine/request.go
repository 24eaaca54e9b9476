package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/lodeworks/lode/pkg/path"
)

// Request is the transport-agnostic request contract the engine consumes:
// method, URL, headers, flattened query/path params and an optional body.
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Params  map[string]string
	Body    []byte

	// Routing results, populated during dispatch.
	Api              *Api
	Endpoint         *Endpoint
	Collection       *Collection
	CollectionKey    string
	EntityKey        string
	SubCollectionKey string

	ctx  context.Context
	json interface{}
}

// NewRequest builds a request from a method and full URL string. Query
// parameters are flattened into Params; a repeated key keeps its first value.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, BadRequest("invalid url %q", rawURL)
	}
	params := map[string]string{}
	for key, vals := range u.Query() {
		if len(vals) > 0 {
			params[key] = vals[0]
		} else {
			params[key] = ""
		}
	}
	return &Request{
		Method:  strings.ToUpper(method),
		URL:     u,
		Headers: http.Header{},
		Params:  params,
		Body:    body,
		ctx:     context.Background(),
	}, nil
}

// WithContext sets the request context.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Path parses the URL path into segments.
func (r *Request) Path() (path.Path, error) {
	return path.Parse(r.URL.Path)
}

// Param returns a query or extracted path parameter, case-insensitively.
func (r *Request) Param(name string) string {
	if v, ok := r.Params[name]; ok {
		return v
	}
	for k, v := range r.Params {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// JSON lazily parses the request body. Returns nil when there is no body.
func (r *Request) JSON() (interface{}, error) {
	if r.json != nil {
		return r.json, nil
	}
	if len(r.Body) == 0 {
		return nil, nil
	}
	var parsed interface{}
	if err := json.Unmarshal(r.Body, &parsed); err != nil {
		return nil, BadRequest("malformed JSON body: %v", err)
	}
	r.json = parsed
	return parsed, nil
}

// MergeParamsIntoBody copies extracted path variables into the JSON body so
// ":id"-style variables reach downstream validation uniformly whether they
// arrived in the URL or the body. Object bodies get the params set directly;
// array bodies are left untouched. Existing body values win.
func (r *Request) MergeParamsIntoBody(params map[string]string) error {
	parsed, err := r.JSON()
	if err != nil {
		return err
	}
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil
	}
	changed := false
	for k, v := range params {
		if v == "" {
			continue
		}
		if _, exists := obj[k]; !exists {
			obj[k] = v
			changed = true
		}
	}
	if changed {
		body, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		r.Body = body
		r.json = obj
	}
	return nil
}

// IsInternal reports whether the request was flagged as an internal
// sub-request (set by actions issuing nested calls).
func (r *Request) IsInternal() bool {
	return r.Headers.Get("X-Lode-Internal") != ""
}
