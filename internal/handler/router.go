// Package handler provides the operational HTTP surface of ArtShare:
// liveness, readiness, Prometheus metrics and the admin endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ReadinessChecker reports whether the persistence layer can serve requests.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Router wires the operational routes.
type Router struct {
	readiness    ReadinessChecker
	adminHandler *AdminHandler
	gatherer     prometheus.Gatherer
	metricsPath  string
	logger       zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Readiness    ReadinessChecker
	AdminHandler *AdminHandler

	// Gatherer serves MetricsPath. Nil disables the metrics route.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	path := config.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Router{
		readiness:    config.Readiness,
		adminHandler: config.AdminHandler,
		gatherer:     config.Gatherer,
		metricsPath:  path,
		logger:       config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)

	if rt.gatherer != nil {
		r.Handle(rt.metricsPath, promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}

	if rt.adminHandler != nil {
		rt.adminHandler.RegisterRoutes(r)
	}

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	if rt.readiness == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rt.readiness.Ready(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := rt.logger.Debug()
			if status >= http.StatusInternalServerError {
				event = rt.logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
