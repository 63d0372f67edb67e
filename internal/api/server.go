// Package api provides the REST API server for the device sync service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v0 "github.com/bilal060/devicesync-server/internal/api/v0"
	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/records"
	syncsvc "github.com/bilal060/devicesync-server/internal/sync"
)

// ServerOption configures the sync API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares     []func(http.Handler) http.Handler
	metricsRegistry *prometheus.Registry
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsRegistry exposes the given Prometheus registry on /metrics
func WithMetricsRegistry(registry *prometheus.Registry) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsRegistry = registry
	}
}

// NewServer creates and configures the HTTP router with the given
// dependencies and options
func NewServer(
	gateway *syncsvc.Gateway,
	dispatcher *syncsvc.Dispatcher,
	store queue.Store,
	deviceStore devices.Store,
	repos map[records.DataType]records.Repository,
	opts ...ServerOption,
) *chi.Mux {
	// Initialize configuration with defaults
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	// Apply middleware
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Mount health check routes directly at root
	r.Mount("/", v0.HealthRouter(store))

	// Expose Prometheus metrics when configured
	if cfg.metricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.metricsRegistry, promhttp.HandlerOpts{}))
	}

	// Mount the sync API routes
	r.Mount("/api", v0.Router(gateway, dispatcher, store, deviceStore, repos))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
