package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// okAction returns a 200 with a marker body and records its name on the
// chain blackboard.
func okAction(name string) *Action {
	return NewAction(name, HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		order, _ := ch.Get("ran").([]string)
		ch.Put("ran", append(order, name))
		res.WithStatus(http.StatusOK).WithJson(map[string]interface{}{"action": name})
		return nil
	}))
}

func bookstoreApi(t *testing.T) *Api {
	t.Helper()

	api, err := NewApi("test")
	require.NoError(t, err)

	ep3, err := NewEndpoint("ep3", "GET", "bookstore/", "books/*", "categories", "authors")
	require.NoError(t, err)
	ep3.WithAction(okAction("rest"))

	api.WithEndpoint(ep3)
	return api
}

func get(t *testing.T, e *Engine, url string) (*Request, *Response) {
	t.Helper()
	req, err := NewRequest("GET", url, nil)
	require.NoError(t, err)
	return req, e.Service(req)
}

func TestServiceBookstoreRouting(t *testing.T) {
	e := New()
	e.AddApi(bookstoreApi(t))

	t.Run("books entity relationship resolves", func(t *testing.T) {
		req, res := get(t, e, "http://localhost/test/bookstore/books/1/author")

		assert.Equal(t, http.StatusOK, res.Status)
		require.NotNil(t, req.Endpoint)
		assert.Equal(t, "ep3", req.Endpoint.Rule.Name)
		assert.Equal(t, "books", req.CollectionKey)
		assert.Equal(t, "1", req.EntityKey)
		assert.Equal(t, "author", req.SubCollectionKey)
	})

	t.Run("unknown collection is a 404", func(t *testing.T) {
		_, res := get(t, e, "http://localhost/test/bookstore/cars/")
		assert.Equal(t, http.StatusNotFound, res.Status)
	})

	t.Run("404 lists configured endpoints for diagnosability", func(t *testing.T) {
		_, res := get(t, e, "http://localhost/test/bookstore/cars/")
		assert.Contains(t, res.FindJSON("error"), "ep3")
	})

	t.Run("unknown api is a 400", func(t *testing.T) {
		_, res := get(t, e, "http://localhost/nosuchapi/bookstore/books")
		assert.Equal(t, http.StatusBadRequest, res.Status)
	})

	t.Run("path variables merge into params", func(t *testing.T) {
		req, res := get(t, e, "http://localhost/test/bookstore/books/42")
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "books", req.Params["collection"])
		assert.Equal(t, "42", req.Params["entity"])
	})
}

func TestServiceContainerPath(t *testing.T) {
	e := New()
	_, err := e.WithContainerPath("app/v2")
	require.NoError(t, err)
	e.AddApi(bookstoreApi(t))

	_, res := get(t, e, "http://localhost/app/v2/test/bookstore/books")
	assert.Equal(t, http.StatusOK, res.Status)

	_, res = get(t, e, "http://localhost/other/test/bookstore/books")
	assert.Equal(t, http.StatusBadRequest, res.Status, "outside every container path is a framework misconfiguration")
}

func TestServiceOptionsShortCircuit(t *testing.T) {
	e := New()
	e.AddApi(bookstoreApi(t))

	req, err := NewRequest("OPTIONS", "http://localhost/anything/at/all", nil)
	require.NoError(t, err)
	res := e.Service(req)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "*", res.Headers.Get("Access-Control-Allow-Origin"))
	assert.Nil(t, req.Api, "OPTIONS is answered before routing")
}

func TestServiceActionOrdering(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)

	ep, err := NewEndpoint("ep", "GET", "things/")
	require.NoError(t, err)

	var ran []string
	record := func(name string) *Action {
		return NewAction(name, HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
			ran = append(ran, name)
			res.WithStatus(http.StatusOK)
			return nil
		}))
	}

	ep.WithAction(record("second").WithOrder(20))
	ep.WithAction(record("first").WithOrder(10))
	// same order as "second": declaration order breaks the tie
	api.WithAction(record("filter").WithOrder(20))
	api.WithEndpoint(ep)

	e := New()
	e.AddApi(api)

	_, res := get(t, e, "http://localhost/test/things/1")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []string{"first", "second", "filter"}, ran)
}

func TestServiceChainCancellation(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)
	ep, err := NewEndpoint("ep", "GET", "things/")
	require.NoError(t, err)

	afterRan := false
	deny := NewAction("acl", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		ch.Cancel()
		return Forbidden("access denied")
	})).WithOrder(10)
	after := NewAction("rest", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		afterRan = true
		return nil
	})).WithOrder(20)

	ep.WithAction(deny)
	ep.WithAction(after)
	api.WithEndpoint(ep)

	e := New()
	e.AddApi(api)

	_, res := get(t, e, "http://localhost/test/things/1")
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.False(t, afterRan, "no action after a cancel may run")
}

func TestServiceInternalErrorsAreOpaque(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)
	ep, err := NewEndpoint("ep", "GET", "things/")
	require.NoError(t, err)
	ep.WithAction(NewAction("boom", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		panic("secret database password in stack trace")
	})))
	api.WithEndpoint(ep)

	e := New()
	e.AddApi(api)

	_, res := get(t, e, "http://localhost/test/things/1")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.NotContains(t, res.FindJSON("error"), "secret", "500 bodies carry only a generic cause")
}

func TestServiceMethodFilter(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)
	ep, err := NewEndpoint("ep", "GET,POST", "things/")
	require.NoError(t, err)
	ep.WithAction(okAction("rest"))
	api.WithEndpoint(ep)

	e := New()
	e.AddApi(api)

	req, err := NewRequest("DELETE", "http://localhost/test/things/1", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestServiceNestedRequestInheritsUser(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)

	// internal endpoint reachable only from nested chains
	internalEp, err := NewEndpoint("internal", "PUT", "internal/")
	require.NoError(t, err)
	internalEp.WithInternal(true)

	var nestedUser *User
	internalEp.WithAction(NewAction("inspect", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		nestedUser = ch.User()
		assert.Equal(t, 2, ch.Depth())
		res.WithStatus(http.StatusOK)
		return nil
	})))

	outerEp, err := NewEndpoint("outer", "GET", "things/")
	require.NoError(t, err)
	outerEp.WithAction(NewAction("auth-then-nest", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		ch.SetUser(&User{Username: "alice"})

		nested, err := NewRequest("PUT", "http://localhost/test/internal/x", nil)
		require.NoError(t, err)
		sub := ch.Engine().ServiceWithParent(nested, ch)
		require.Equal(t, http.StatusOK, sub.Status)

		res.WithStatus(http.StatusOK)
		return nil
	})))

	api.WithEndpoint(internalEp)
	api.WithEndpoint(outerEp)

	e := New()
	e.AddApi(api)

	_, res := get(t, e, "http://localhost/test/things/1")
	assert.Equal(t, http.StatusOK, res.Status)
	require.NotNil(t, nestedUser)
	assert.Equal(t, "alice", nestedUser.Username)

	// internal endpoints are invisible to top-level requests
	req, err := NewRequest("PUT", "http://localhost/test/internal/x", nil)
	require.NoError(t, err)
	res = e.Service(req)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestServiceMergesPathParamsIntoBody(t *testing.T) {
	api, err := NewApi("test")
	require.NoError(t, err)
	// endpoint mounted at the api root: the collection key comes straight
	// from the first remaining segment
	ep, err := NewEndpoint("ep", "PUT", "")
	require.NoError(t, err)

	var body interface{}
	ep.WithAction(NewAction("capture", HandlerFunc(func(ctx context.Context, ch *Chain, req *Request, res *Response) error {
		var err error
		body, err = req.JSON()
		res.WithStatus(http.StatusOK)
		return err
	})))
	api.WithEndpoint(ep)

	e := New()
	e.AddApi(api)

	req, err := NewRequest("PUT", "http://localhost/test/users/42", []byte(`{"name":"bob"}`))
	require.NoError(t, err)
	res := e.Service(req)
	require.Equal(t, http.StatusOK, res.Status)

	obj, ok := body.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "bob", obj["name"])
	assert.Equal(t, "42", obj["entity"], "path variables reach the body")

	// array bodies are left untouched
	req, err = NewRequest("PUT", "http://localhost/test/users/42", []byte(`[{"name":"bob"}]`))
	require.NoError(t, err)
	res = e.Service(req)
	require.Equal(t, http.StatusOK, res.Status)
	_, isArray := body.([]interface{})
	assert.True(t, isArray)
}

func TestLastResponse(t *testing.T) {
	e := New()
	e.AddApi(bookstoreApi(t))

	_, res := get(t, e, "http://localhost/test/bookstore/books")
	assert.Same(t, res, e.LastResponse())
}

type recordingListener struct {
	started, finished int
	errs              []error
}

func (l *recordingListener) OnStart(req *Request)                 { l.started++ }
func (l *recordingListener) OnFinish(req *Request, res *Response) { l.finished++ }
func (l *recordingListener) OnError(req *Request, err error)      { l.errs = append(l.errs, err) }

func TestListeners(t *testing.T) {
	e := New()
	l := &recordingListener{}
	e.WithListener(l)
	e.AddApi(bookstoreApi(t))

	get(t, e, "http://localhost/test/bookstore/books")
	get(t, e, "http://localhost/test/bookstore/cars")

	assert.Equal(t, 2, l.started)
	assert.Equal(t, 2, l.finished, "listeners fire even on failed routing")
	require.Len(t, l.errs, 1)
	assert.Equal(t, http.StatusNotFound, statusOf(l.errs[0]))
}
