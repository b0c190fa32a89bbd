package routing

import (
	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/hearth/server/metrics"
)

// RegisterMetricsRoutes adds the Prometheus scrape endpoint.
func RegisterMetricsRoutes(r chi.Router, m *metrics.Metrics) {
	r.Handle("/metrics", m.Handler())
}
