package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the bridge.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// Turn pipeline
	TurnsTotal       *prometheus.CounterVec
	ExtractionsTotal *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	PromptTokens     prometheus.Histogram
	ModelLatency     *prometheus.HistogramVec
	SessionsActive   prometheus.Gauge
	SessionEvictions prometheus.Counter
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_rate_limit_hits_total",
				Help: "Total number of rate limit hits by client",
			},
			[]string{"client"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_turns_total",
				Help: "Conversation turns by outcome (ok or an error type)",
			},
			[]string{"outcome"},
		),
		ExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_extractions_total",
				Help: "Model replies by the extraction strategy that read them",
			},
			[]string{"strategy"},
		),
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_actions_dispatched_total",
				Help: "Device commands sent to Home Assistant",
			},
			[]string{"category"},
		),
		PromptTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hearth_prompt_tokens",
				Help:    "Estimated token count of the messages sent to the model",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
		ModelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_model_request_duration_seconds",
				Help:    "Duration of chat completion calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "status"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_sessions_active",
				Help: "Conversations currently held in the session store",
			},
		),
		SessionEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_session_evictions_total",
				Help: "Conversations removed from the session store",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.ActiveRequests.WithLabelValues("queued").Add(0)
	m.ActiveRequests.WithLabelValues("processing").Add(0)
	m.TurnsTotal.WithLabelValues("ok").Add(0)

	return m
}

// Registerer exposes the registry so other components (the circuit breaker,
// for one) can add their own collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
