// Package routing assembles the HTTP router: the global middleware stack,
// the versioned conversation API, and the health and metrics endpoints.
package routing

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/handlers"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/middleware"
	"go.uber.org/zap"
)

// HealthCheck reports whether one component is usable.
type HealthCheck struct {
	Name    string
	Healthy func() bool
}

// Toggle is a middleware that can be switched on and off at runtime.
type Toggle struct {
	Enabled    func() bool
	Middleware func(http.Handler) http.Handler
}

// wrap applies the middleware only while it is enabled.
func (t Toggle) wrap(next http.Handler) http.Handler {
	if t.Middleware == nil {
		return next
	}
	wrapped := t.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.Enabled == nil || t.Enabled() {
			wrapped.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Options holds everything the router mounts.
type Options struct {
	Conversation *handlers.ConversationHandler
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	APIKeys      middleware.KeySource
	TurnTimeout  time.Duration
	// RateLimit and Queue guard the turn endpoint only.
	RateLimit Toggle
	Queue     Toggle
	Health    []HealthCheck
}

// NewRouter builds the router.
func NewRouter(opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTimer)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		r.Use(middleware.PrometheusMetrics(opts.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		errors.ErrorWithType(w, "Not found", errors.NotFoundError, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		errors.ErrorWithType(w, "Method not allowed", errors.ValidationError, http.StatusMethodNotAllowed)
	})

	r.Get("/health", healthHandler(opts.Health))
	if opts.Metrics != nil {
		RegisterMetricsRoutes(r, opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKeys != nil {
			r.Use(middleware.Authentication(opts.APIKeys))
		}
		opts.Conversation.Routes(r,
			opts.RateLimit.wrap,
			opts.Queue.wrap,
			middleware.Timeout(opts.TurnTimeout),
		)
	})

	return r
}

// healthHandler reports every component and answers 503 when any of them
// is unhealthy.
func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		allHealthy := true
		services := make(map[string]string, len(checks))
		for _, c := range checks {
			if c.Healthy() {
				services[c.Name] = "healthy"
				continue
			}
			allHealthy = false
			services[c.Name] = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   map[string]bool{"global": allHealthy},
			"services": services,
		})
	}
}
