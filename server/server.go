// Package server wires the bridge together: configuration, model client,
// session store, turn processor and HTTP router, and runs the HTTP server
// with hot configuration reload.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"github.com/teilomillet/hearth/config"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/circuitbreaker"
	"github.com/teilomillet/hearth/server/handlers"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/middleware"
	"github.com/teilomillet/hearth/server/processing"
	"github.com/teilomillet/hearth/server/provider"
	"github.com/teilomillet/hearth/server/routing"
	"github.com/teilomillet/hearth/server/session"
	"go.uber.org/zap"
)

// locationTimeout bounds one location name lookup.
const locationTimeout = 5 * time.Second

// LocationReader reads the name of the home from Home Assistant.
type LocationReader interface {
	LocationName(ctx context.Context) (string, error)
}

// Dependencies are the collaborators the server does not build itself.
type Dependencies struct {
	Devices processing.DeviceSource
	Invoker processing.CommandInvoker
	// LocationName fills {{ .LocationName }} in the preamble unless the
	// configuration overrides it.
	LocationName string
	// Location, when set, is asked for the location name while it is still
	// unknown, at most once per retry interval.
	Location LocationReader
	// TokenCounter, when set, measures prompt sizes.
	TokenCounter provider.TokenCounter
	// LLMFactory replaces provider.NewLLM, mainly for tests.
	LLMFactory provider.Factory
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	watcher    config.Watcher
	logger     *zap.Logger

	metrics     *metrics.Metrics
	breaker     *circuitbreaker.CircuitBreaker
	provider    *provider.Client
	store       *session.LRUStore
	rateLimiter *middleware.RateLimiter
	queue       *middleware.TurnQueue
	handler     http.Handler

	location      LocationReader
	locationRetry time.Duration
	locMu         sync.Mutex
	locationName  string
	lastLookup    time.Time

	settings     atomic.Pointer[processing.Settings]
	apiKeys      atomic.Pointer[[]string]
	rateLimitOn  atomic.Bool
	queueOn      atomic.Bool

	mu      sync.Mutex
	current *config.Config
}

// NewServer builds a server from the watcher's current configuration.
func NewServer(watcher config.Watcher, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := watcher.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	s := &Server{
		watcher:      watcher,
		logger:       logger,
		metrics:       metrics.NewMetrics(),
		location:      deps.Location,
		locationRetry: 30 * time.Second,
		locationName:  deps.LocationName,
	}

	breaker, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:             "model",
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		TestMode:         cfg.CircuitBreaker.TestMode,
	}, logger, s.metrics.Registerer())
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}
	s.breaker = breaker

	providerOpts := []provider.Option{
		provider.WithCircuitBreaker(breaker),
		provider.WithMetrics(s.metrics),
	}
	if deps.TokenCounter != nil {
		providerOpts = append(providerOpts, provider.WithTokenCounter(deps.TokenCounter))
	}
	if deps.LLMFactory != nil {
		providerOpts = append(providerOpts, provider.WithFactory(deps.LLMFactory))
	}
	s.provider = provider.NewClient(cfg.LLM, logger.Named("provider"), providerOpts...)

	s.store = session.NewLRUStore(cfg.Sessions.MaxEntries, cfg.Sessions.TTL,
		session.WithEvictionHook(func(id string) {
			s.metrics.SessionEvictions.Inc()
			s.metrics.SessionsActive.Dec()
			logger.Debug("conversation evicted", zap.String("conversation_id", id))
		}),
	)

	processor, err := processing.NewProcessor(deps.Devices, s.provider, deps.Invoker, s.store,
		logger.Named("processor"), processing.WithMetrics(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, s.metrics)
	s.queue = middleware.NewTurnQueue(middleware.QueueConfig{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxPending:    cfg.Queue.MaxPending,
		Metrics:       s.metrics,
		Logger:        logger,
	})
	s.applyConfig(cfg)

	conversation := handlers.NewConversationHandler(processor, s.Settings, s.store, logger)
	s.handler = routing.NewRouter(routing.Options{
		Conversation: conversation,
		Metrics:      s.metrics,
		Logger:       logger,
		APIKeys:      s.APIKeys,
		TurnTimeout:  cfg.Server.TurnTimeout,
		RateLimit:    routing.Toggle{Enabled: s.rateLimitOn.Load, Middleware: s.rateLimiter.Handler},
		Queue:        routing.Toggle{Enabled: s.queueOn.Load, Middleware: s.queue.Handler},
		Health: []routing.HealthCheck{
			{Name: "model", Healthy: func() bool { return s.breaker.State() != gobreaker.StateOpen }},
		},
	})

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Settings returns the settings for the next turn. A location name that
// could not be read yet is looked up again here.
func (s *Server) Settings() processing.Settings {
	settings := *s.settings.Load()
	if settings.LocationName == "" {
		settings.LocationName = s.resolveLocation()
	}
	return settings
}

// resolveLocation returns the known location name, asking Home Assistant
// when it is still unknown and the retry interval has passed.
func (s *Server) resolveLocation() string {
	s.locMu.Lock()
	defer s.locMu.Unlock()
	if s.locationName != "" || s.location == nil {
		return s.locationName
	}
	if !s.lastLookup.IsZero() && time.Since(s.lastLookup) < s.locationRetry {
		return ""
	}
	s.lastLookup = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), locationTimeout)
	defer cancel()
	name, err := s.location.LocationName(ctx)
	if err != nil {
		s.logger.Warn("could not read location name", zap.Error(err),
			zap.Duration("retry_in", s.locationRetry))
		return ""
	}
	s.locationName = name
	s.logger.Info("location name resolved", zap.String("location", name))
	return name
}

func (s *Server) knownLocation() string {
	s.locMu.Lock()
	defer s.locMu.Unlock()
	return s.locationName
}

// APIKeys returns the keys currently accepted on /v1.
func (s *Server) APIKeys() []string {
	return *s.apiKeys.Load()
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Verify checks the model credentials.
func (s *Server) Verify(ctx context.Context) error {
	return s.provider.Verify(ctx)
}

// applyConfig makes cfg effective for the next turn. Listener settings and
// the circuit breaker only change on restart.
func (s *Server) applyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil {
		if prev.Server.Port != cfg.Server.Port ||
			prev.Server.ReadTimeout != cfg.Server.ReadTimeout ||
			prev.Server.WriteTimeout != cfg.Server.WriteTimeout ||
			prev.Server.TurnTimeout != cfg.Server.TurnTimeout {
			s.logger.Warn("server listener settings changed; restart to apply")
		}
		if prev.CircuitBreaker != cfg.CircuitBreaker {
			s.logger.Warn("circuit breaker settings changed; restart to apply")
		}
		if prev.Sessions != cfg.Sessions {
			s.logger.Warn("session store settings changed; restart to apply")
		}
		if prev.HomeAssistant != cfg.HomeAssistant {
			s.logger.Warn("home assistant settings changed; restart to apply")
		}
	}

	settings := processing.SettingsFromConfig(cfg, s.knownLocation(), s.logger)
	s.settings.Store(&settings)

	keys := append([]string(nil), cfg.Server.APIKeys...)
	s.apiKeys.Store(&keys)

	s.provider.UpdateConfig(cfg.LLM)
	s.rateLimiter.SetLimits(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	s.rateLimitOn.Store(cfg.RateLimit.Enabled)
	s.queue.SetLimits(cfg.Queue.MaxConcurrent, cfg.Queue.MaxPending)
	s.queueOn.Store(cfg.Queue.Enabled)

	s.current = cfg
	s.logger.Info("configuration applied",
		zap.String("model", settings.Model),
		zap.Stringer("mode", settings.Mode),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("queue", cfg.Queue.Enabled),
	)
}

// watchConfig applies every configuration the watcher publishes until ctx
// ends or the watcher closes.
func (s *Server) watchConfig(ctx context.Context) {
	updates := s.watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			s.mu.Lock()
			same := cfg == s.current
			s.mu.Unlock()
			if same {
				continue
			}
			s.applyConfig(cfg)
		}
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watchConfig(watchCtx)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errChan:
		return err
	}
}

// Shutdown stops accepting requests and waits for running turns, bounded by
// server.shutdown_timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	timeout := s.current.Server.ShutdownTimeout
	s.mu.Unlock()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errors.LogError(s.logger, err, "")
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	if err := s.queue.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain turn queue: %w", err)
	}
	return nil
}
