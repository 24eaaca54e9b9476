package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP dispatch metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine metrics
	ActionsRun         *prometheus.CounterVec
	ChainCancellations *prometheus.CounterVec
	NestedRequests     prometheus.Counter
	RoutingFailures    *prometheus.CounterVec

	// RQL metrics
	RQLParseErrorsTotal prometheus.Counter
	StmtCacheHitsTotal  prometheus.Counter
	StmtCacheMissTotal  prometheus.Counter

	// Backend metrics
	BackendQueriesTotal  *prometheus.CounterVec
	BackendQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lode_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"method", "api", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lode_request_duration_seconds",
				Help:    "Request dispatch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "api"},
		),
		ActionsRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lode_actions_run_total",
				Help: "Total number of chain actions executed",
			},
			[]string{"action"},
		),
		ChainCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lode_chain_cancellations_total",
				Help: "Total number of chains canceled before completion",
			},
			[]string{"action"},
		),
		NestedRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lode_nested_requests_total",
				Help: "Total number of nested sub-requests dispatched",
			},
		),
		RoutingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lode_routing_failures_total",
				Help: "Total number of requests that failed to route",
			},
			[]string{"stage"},
		),
		RQLParseErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lode_rql_parse_errors_total",
				Help: "Total number of RQL parse failures",
			},
		),
		StmtCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lode_stmt_cache_hits_total",
				Help: "Total number of statement cache hits",
			},
		),
		StmtCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lode_stmt_cache_misses_total",
				Help: "Total number of statement cache misses",
			},
		),
		BackendQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lode_backend_queries_total",
				Help: "Total number of backend queries issued",
			},
			[]string{"db", "collection", "status"},
		),
		BackendQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lode_backend_query_duration_seconds",
				Help:    "Backend query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"db", "collection"},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActionsRun,
		m.ChainCancellations,
		m.NestedRequests,
		m.RoutingFailures,
		m.RQLParseErrorsTotal,
		m.StmtCacheHitsTotal,
		m.StmtCacheMissTotal,
		m.BackendQueriesTotal,
		m.BackendQueryDuration,
	)

	return m
}

// ObserveRequest records dispatch metrics for one completed request
func (m *Metrics) ObserveRequest(method, api string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, api, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, api).Observe(duration.Seconds())
}

// ObserveBackendQuery records metrics for one backend query
func (m *Metrics) ObserveBackendQuery(db, collection string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BackendQueriesTotal.WithLabelValues(db, collection, status).Inc()
	m.BackendQueryDuration.WithLabelValues(db, collection).Observe(duration.Seconds())
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
