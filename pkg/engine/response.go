package engine

import (
	"encoding/json"
	"net/http"
)

// Response is the transport-agnostic response contract the engine produces.
type Response struct {
	Status  int
	Headers http.Header
	Json    interface{}
	Text    string

	body []byte
}

// NewResponse creates an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: http.Header{},
	}
}

// WithStatus sets the response status.
func (r *Response) WithStatus(status int) *Response {
	r.Status = status
	return r
}

// WithJson sets the JSON body.
func (r *Response) WithJson(v interface{}) *Response {
	r.Json = v
	r.Text = ""
	return r
}

// WithText sets a plain-text body.
func (r *Response) WithText(text string) *Response {
	r.Text = text
	r.Json = nil
	return r
}

// WithHeader sets a response header.
func (r *Response) WithHeader(key, value string) *Response {
	r.Headers.Set(key, value)
	return r
}

// WithRedirect sets up a redirect response.
func (r *Response) WithRedirect(status int, location string) *Response {
	r.Status = status
	r.Headers.Set("Location", location)
	return r
}

// WithError installs the error body for err. Expected 4xx failures carry
// their message; 500s get only a short generic cause string so internal
// detail never leaks to the client.
func (r *Response) WithError(err error) *Response {
	status := statusOf(err)
	r.Status = status
	body := map[string]interface{}{
		"status":  status,
		"message": http.StatusText(status),
	}
	if status < http.StatusInternalServerError {
		body["error"] = err.Error()
	} else {
		body["error"] = "unexpected internal error"
	}
	r.Json = body
	return r
}

// Serialize finalizes the body bytes. Called exactly once at the end of
// dispatch; later Body calls return the cached bytes.
func (r *Response) Serialize() error {
	switch {
	case r.Json != nil:
		b, err := json.Marshal(r.Json)
		if err != nil {
			return err
		}
		r.body = b
		r.Headers.Set("Content-Type", "application/json")
	case r.Text != "":
		r.body = []byte(r.Text)
		if r.Headers.Get("Content-Type") == "" {
			r.Headers.Set("Content-Type", "text/plain")
		}
	default:
		r.body = nil
	}
	return nil
}

// Body returns the serialized body bytes.
func (r *Response) Body() []byte { return r.body }

// FindJSON walks the JSON body by dotted key path, for tests and actions
// that inspect nested response data.
func (r *Response) FindJSON(keys ...string) interface{} {
	cur := r.Json
	for _, key := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}
