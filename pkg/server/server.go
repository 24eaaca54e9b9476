// Package server exposes a dispatch engine over HTTP. It adapts net/http
// requests to the engine's transport-agnostic contract and mounts the
// operational endpoints (health probes, metrics) on a separate port for
// orchestrator probes.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lodeworks/lode/pkg/config"
	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/httputil"
	"github.com/lodeworks/lode/pkg/observability"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 4 << 20

// Server couples the engine with its HTTP front door.
type Server struct {
	engine   *engine.Engine
	logger   *observability.Logger
	registry *prometheus.Registry
	cfg      config.ServerConfig

	health *observability.HealthChecker
}

// New creates a server for e.
func New(e *engine.Engine, logger *observability.Logger, registry *prometheus.Registry, cfg config.ServerConfig) *Server {
	return &Server{engine: e, logger: logger, registry: registry, cfg: cfg}
}

// WithHealthChecker attaches dependency-aware readiness probing.
func (s *Server) WithHealthChecker(h *observability.HealthChecker) *Server {
	s.health = h
	return s
}

// Handler builds the public router: everything funnels into the engine.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.PathPrefix("/").Handler(http.HandlerFunc(s.dispatch))

	wrap := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return wrap(r)
}

// HealthHandler builds the operational router for the probe port.
func (s *Server) HealthHandler() http.Handler {
	r := mux.NewRouter()
	if s.health != nil {
		r.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			httputil.WriteSuccess(w, map[string]string{"status": "ok"})
		}).Methods(http.MethodGet)
	}
	if s.registry != nil {
		r.Handle("/metrics", observability.Handler(s.registry)).Methods(http.MethodGet)
	}
	return r
}

// dispatch adapts one HTTP request into the engine and writes the result
// back.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.adapt(r)
	if err != nil {
		s.logger.WithError(err).Warn("rejecting unreadable request")
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	res := s.engine.Service(req)

	for key, vals := range res.Headers {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(res.Status)
	if body := res.Body(); len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			s.logger.WithError(err).Warn("writing response body")
		}
	}
}

// adapt converts an http.Request into the engine's request contract.
func (s *Server) adapt(r *http.Request) (*engine.Request, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = b
	}

	rawURL := r.URL.String()
	req, err := engine.NewRequest(r.Method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Headers = r.Header.Clone()
	return req.WithContext(r.Context()), nil
}

// ListenAndServe runs the public and health servers until ctx is canceled,
// then drains them within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	public := &http.Server{
		Addr:         s.cfg.Host + ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	health := &http.Server{
		Addr:    s.cfg.Host + ":" + s.cfg.HealthPort,
		Handler: s.HealthHandler(),
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.WithField("addr", public.Addr).Info("serving api traffic")
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		s.logger.WithField("addr", health.Addr).Info("serving health and metrics")
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("draining http servers")
	if err := public.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("draining api server: %w", err)
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("draining health server: %w", err)
	}
	return nil
}
