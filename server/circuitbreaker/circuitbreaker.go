// Package circuitbreaker guards calls to the chat model. It wraps
// sony/gobreaker and reports state changes to Prometheus and zap.
package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Time spent open before going half-open
	FailureThreshold uint32        // Consecutive failures that trip the breaker
	TestMode         bool          // Skip metric registration in test mode
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a new circuit breaker. Metrics are registered
// on registry unless cfg.TestMode is set or registry is nil.
func NewCircuitBreaker(cfg Config, logger *zap.Logger, registry prometheus.Registerer) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	b := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
		stateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "hearth_circuit_breaker_state",
			Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		}),
		failuresCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hearth_circuit_breaker_failures_total",
			Help:        "Total number of failures recorded by the circuit breaker",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		}),
		tripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hearth_circuit_breaker_trips_total",
			Help:        "Total number of times the circuit breaker has tripped",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		}),
	}

	if !cfg.TestMode && registry != nil {
		for _, c := range []prometheus.Collector{b.stateGauge, b.failuresCount, b.tripsTotal} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
	}

	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})

	return b, nil
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		b.tripsTotal.Inc()
		b.logger.Warn("circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs f if the breaker allows it. While the breaker is open, or
// half-open with no free slots, it returns ErrCircuitOpen without calling f.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := f(); err != nil {
			b.failuresCount.Inc()
			return nil, err
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state of the circuit breaker
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the request counts of the current generation.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}
