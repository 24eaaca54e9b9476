// Package observability provides structured logging, Prometheus metrics, and
// dependency health checks.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Context-aware logging:
//
//	logger.WithError(err).WithField("request_id", reqID).Error("request failed")
//
// # Prometheus Metrics
//
// Register metrics against a registry and record from the hot path:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveRequest("GET", "store", 200, elapsed)
//	metrics.ObserveBackendQuery("store", "books", elapsed)
//
// # Health Checks
//
// Configure a checker with the service's dependencies:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// Liveness and Readiness are http.HandlerFunc probes; readiness reports 503
// only when a required dependency is down.
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/server: mounts the probe and metrics endpoints
package observability
