package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRequest("GET", "test", 200, 25*time.Millisecond)
	m.ObserveRequest("GET", "test", 200, 30*time.Millisecond)
	m.ObserveRequest("PUT", "test", 404, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "test", "200")); got != 2 {
		t.Errorf("expected 2 GET 200s, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("PUT", "test", "404")); got != 1 {
		t.Errorf("expected 1 PUT 404, got %v", got)
	}
}

func TestObserveBackendQuery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveBackendQuery("bookdb", "books", nil, 10*time.Millisecond)
	m.ObserveBackendQuery("bookdb", "books", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.BackendQueriesTotal.WithLabelValues("bookdb", "books", "ok")); got != 1 {
		t.Errorf("expected 1 ok query, got %v", got)
	}
	if got := testutil.ToFloat64(m.BackendQueriesTotal.WithLabelValues("bookdb", "books", "error")); got != 1 {
		t.Errorf("expected 1 error query, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.StmtCacheHitsTotal.Inc()
	m.RQLParseErrorsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{"lode_stmt_cache_hits_total", "lode_rql_parse_errors_total"} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %s in scrape output", metric)
		}
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}
