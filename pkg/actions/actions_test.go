package actions

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/rql"
	"github.com/lodeworks/lode/pkg/sessions"
)

// fakeDb serves canned rows and records the statement it was asked for.
type fakeDb struct {
	rows      []map[string]interface{}
	baseQuery string
	lastStmt  *rql.Stmt
}

func (f *fakeDb) Name() string { return "fakedb" }

func (f *fakeDb) Collections() []*engine.Collection {
	colls := []*engine.Collection{{Name: "books", Table: "books"}}
	if f.baseQuery != "" {
		colls = append(colls, &engine.Collection{Name: "orders", Table: "orders", Query: f.baseQuery})
	}
	return colls
}

func (f *fakeDb) Select(ctx context.Context, coll *engine.Collection, stmt *rql.Stmt) ([]map[string]interface{}, error) {
	f.lastStmt = stmt
	return f.rows, nil
}

// newApi builds a test api with one GET endpoint carrying the given actions.
func newApi(t *testing.T, acts ...*engine.Action) (*engine.Engine, *fakeDb) {
	t.Helper()
	api, err := engine.NewApi("test")
	require.NoError(t, err)

	db := &fakeDb{rows: []map[string]interface{}{{"title": "1984"}}}
	api.WithDb(db)

	ep, err := engine.NewEndpoint("ep", "GET,PUT", "")
	require.NoError(t, err)
	for _, act := range acts {
		ep.WithAction(act)
	}
	api.WithEndpoint(ep)

	e := engine.New()
	e.AddApi(api)
	return e, db
}

func okAction() *engine.Action {
	return engine.NewAction("ok", engine.HandlerFunc(func(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
		res.WithStatus(http.StatusOK)
		return nil
	})).WithOrder(50)
}

func seedSession(t *testing.T, store sessions.Store, token string, user *engine.User) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), token, user, time.Hour))
}

func TestAuthBearer(t *testing.T) {
	store := sessions.NewMemoryStore()
	seedSession(t, store, "good-token", &engine.User{Username: "alice", Roles: []string{"admin"}})

	var seen *engine.User
	capture := engine.NewAction("capture", engine.HandlerFunc(func(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
		seen = ch.User()
		res.WithStatus(http.StatusOK)
		return nil
	})).WithOrder(50)

	e, _ := newApi(t, NewAuthAction(Scheme{Kind: SchemeBearer}, store), capture)

	t.Run("valid token installs the user", func(t *testing.T) {
		req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
		require.NoError(t, err)
		req.Headers.Set("Authorization", "Bearer good-token")

		res := e.Service(req)
		assert.Equal(t, http.StatusOK, res.Status)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.Username)
	})

	t.Run("unknown token is a 401", func(t *testing.T) {
		req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
		require.NoError(t, err)
		req.Headers.Set("Authorization", "Bearer bad-token")

		res := e.Service(req)
		assert.Equal(t, http.StatusUnauthorized, res.Status)
	})

	t.Run("missing credentials are a 401", func(t *testing.T) {
		req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
		require.NoError(t, err)

		res := e.Service(req)
		assert.Equal(t, http.StatusUnauthorized, res.Status)
	})

	t.Run("foreign scheme is a 400", func(t *testing.T) {
		req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
		require.NoError(t, err)
		req.Headers.Set("Authorization", "Basic dXNlcjpwdw==")

		res := e.Service(req)
		assert.Equal(t, http.StatusBadRequest, res.Status)
	})
}

func TestAuthApiKey(t *testing.T) {
	store := sessions.NewMemoryStore()
	seedSession(t, store, "k-123", &engine.User{Username: "bob"})

	scheme := Scheme{Kind: SchemeApiKey, Location: "query", ParamName: "apikey"}
	e, _ := newApi(t, NewAuthAction(scheme, store), okAction())

	req, err := engine.NewRequest("GET", "http://localhost/test/books?apikey=k-123", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusOK, res.Status)

	req, err = engine.NewRequest("GET", "http://localhost/test/books?apikey=wrong", nil)
	require.NoError(t, err)
	res = e.Service(req)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestAclRequiresRolesAndPermissions(t *testing.T) {
	store := sessions.NewMemoryStore()
	seedSession(t, store, "admin-tok", &engine.User{
		Username: "alice", Roles: []string{"admin"}, Permissions: []string{"books.read"},
	})
	seedSession(t, store, "norole-tok", &engine.User{
		Username: "bob", Permissions: []string{"books.read"},
	})

	afterRan := false
	after := engine.NewAction("after", engine.HandlerFunc(func(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
		afterRan = true
		res.WithStatus(http.StatusOK)
		return nil
	})).WithOrder(50)

	e, _ := newApi(t,
		NewAuthAction(Scheme{Kind: SchemeBearer}, store),
		NewAclAction([]string{"admin"}, []string{"books.read"}),
		after,
	)

	serve := func(token string) *engine.Response {
		req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
		require.NoError(t, err)
		req.Headers.Set("Authorization", "Bearer "+token)
		return e.Service(req)
	}

	res := serve("admin-tok")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, afterRan)

	afterRan = false
	res = serve("norole-tok")
	assert.Equal(t, http.StatusForbidden, res.Status, "role and permission are both required")
	assert.False(t, afterRan, "a denied chain runs nothing downstream")
}

func TestAclWithoutUser(t *testing.T) {
	e, _ := newApi(t, NewAclAction([]string{"admin"}, nil), okAction())

	req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestRequireParam(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"plain parameter satisfies", "http://localhost/test/books?customerId=9", http.StatusOK},
		{"eq filter satisfies", "http://localhost/test/books?q=eq(customerId,9)", http.StatusOK},
		{"nested eq filter satisfies", "http://localhost/test/books?q=and(eq(customerId,9),gt(total,5))", http.StatusOK},
		{"infix form satisfies", "http://localhost/test/books?customerId=9&sort=-total", http.StatusOK},
		{"missing entirely is a 400", "http://localhost/test/books?sort=-total", http.StatusBadRequest},
		{"superstring column does not satisfy", "http://localhost/test/books?q=eq(xcustomerId,9)", http.StatusBadRequest},
		{"filter on another column does not satisfy", "http://localhost/test/books?q=gt(customerId,9)", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newApi(t, NewRequireParamAction("customerId"), okAction())
			req, err := engine.NewRequest("GET", tc.url, nil)
			require.NoError(t, err)
			res := e.Service(req)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}

func TestRestCollectionRead(t *testing.T) {
	e, db := newApi(t, NewRestAction())
	db.rows = []map[string]interface{}{
		{"id": "1", "title": "1984"},
		{"id": "2", "title": "Animal Farm"},
	}

	req, err := engine.NewRequest("GET", "http://localhost/test/books?sort=-year&limit=10", nil)
	require.NoError(t, err)
	res := e.Service(req)

	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "books", res.FindJSON("meta", "collection"))
	assert.Equal(t, 2, res.FindJSON("meta", "count"))
	assert.Len(t, res.FindJSON("data"), 2)

	require.NotNil(t, db.lastStmt)
	assert.Equal(t, 10, db.lastStmt.Limit)
	require.Len(t, db.lastStmt.Order, 1)
	assert.Equal(t, "year", db.lastStmt.Order[0].Column)
	assert.True(t, db.lastStmt.Order[0].Desc)
	assert.Empty(t, db.lastStmt.Where, "routing params never become filters")
}

func TestRestCollectionBaseQuery(t *testing.T) {
	e, db := newApi(t, NewRestAction())
	db.baseQuery = "eq(region,'${region}')&sort=-created"

	req, err := engine.NewRequest("GET", "http://localhost/test/orders?region=west&limit=2", nil)
	require.NoError(t, err)
	res := e.Service(req)

	require.Equal(t, http.StatusOK, res.Status)
	require.NotNil(t, db.lastStmt)
	require.Len(t, db.lastStmt.Where, 1)
	assert.Equal(t, `eq("region",'west')`, db.lastStmt.Where[0].String())
	require.Len(t, db.lastStmt.Order, 1)
	assert.Equal(t, "created", db.lastStmt.Order[0].Column)
	assert.True(t, db.lastStmt.Order[0].Desc)
	assert.Equal(t, 2, db.lastStmt.Limit, "request params stack on top of the base query")
}

func TestRestCollectionBaseQueryMissingParam(t *testing.T) {
	e, db := newApi(t, NewRestAction())
	db.baseQuery = "eq(region,'${region}')"

	req, err := engine.NewRequest("GET", "http://localhost/test/orders?limit=2", nil)
	require.NoError(t, err)
	res := e.Service(req)

	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, res.FindJSON("error"), "region")
}

func TestRestEntityRead(t *testing.T) {
	e, db := newApi(t, NewRestAction())

	req, err := engine.NewRequest("GET", "http://localhost/test/books/1", nil)
	require.NoError(t, err)
	res := e.Service(req)

	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "1984", res.FindJSON("data", "title"))

	require.NotNil(t, db.lastStmt)
	require.Len(t, db.lastStmt.Where, 1)
	assert.Equal(t, `eq("id",'1')`, db.lastStmt.Where[0].String())
}

func TestRestEntityMiss(t *testing.T) {
	e, db := newApi(t, NewRestAction())
	db.rows = nil

	req, err := engine.NewRequest("GET", "http://localhost/test/books/999", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestRestUnknownCollection(t *testing.T) {
	e, _ := newApi(t, NewRestAction())

	req, err := engine.NewRequest("GET", "http://localhost/test/cars", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestRedirect(t *testing.T) {
	e, _ := newApi(t, NewRedirectAction("https://docs.example.com/books"))

	req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
	require.NoError(t, err)
	res := e.Service(req)

	assert.Equal(t, http.StatusPermanentRedirect, res.Status)
	assert.Equal(t, "https://docs.example.com/books", res.Headers.Get("Location"))
}

func TestLogActionPassesThrough(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e, _ := newApi(t, NewLogAction(logger), okAction())

	req, err := engine.NewRequest("GET", "http://localhost/test/books", nil)
	require.NoError(t, err)
	res := e.Service(req)
	assert.Equal(t, http.StatusOK, res.Status)
}
