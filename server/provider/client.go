// Package provider sends chat completions to the configured model provider
// through gollm.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/hearth/config"
	"github.com/teilomillet/hearth/server/circuitbreaker"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/processing"
	"github.com/teilomillet/hearth/server/session"
	"go.uber.org/zap"
)

// Factory builds a gollm instance for the given provider configuration and
// model.
type Factory func(cfg config.LLMConfig, model string) (gollm.LLM, error)

// TokenCounter estimates the prompt size of a message list.
type TokenCounter interface {
	CountMessages(msgs []session.Message) int
}

// NewLLM creates a gollm instance for cfg. Endpoint is only honored for the
// ollama provider.
func NewLLM(cfg config.LLMConfig, model string) (gollm.LLM, error) {
	llm, err := gollm.NewLLM(
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(model),
		gollm.SetAPIKey(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}
	if cfg.Endpoint != "" && cfg.Provider == "ollama" {
		if err := llm.SetOllamaEndpoint(cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("set ollama endpoint: %w", err)
		}
	}
	return llm, nil
}

// instanceKey identifies a configured gollm instance. gollm keeps sampling
// options on the instance, so each distinct combination gets its own.
type instanceKey struct {
	model       string
	maxTokens   int
	topP        float64
	temperature float64
}

// Client implements processing.Completer.
type Client struct {
	factory Factory
	breaker *circuitbreaker.CircuitBreaker
	counter TokenCounter
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	cfg       config.LLMConfig
	instances map[instanceKey]gollm.LLM
}

var _ processing.Completer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithFactory replaces NewLLM, mainly for tests.
func WithFactory(f Factory) Option {
	return func(c *Client) { c.factory = f }
}

// WithCircuitBreaker routes every model call through b.
func WithCircuitBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithTokenCounter records estimated prompt sizes.
func WithTokenCounter(tc TokenCounter) Option {
	return func(c *Client) { c.counter = tc }
}

// WithMetrics records model latency and prompt sizes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for cfg.
func NewClient(cfg config.LLMConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		factory:   NewLLM,
		logger:    logger,
		cfg:       cfg,
		instances: make(map[instanceKey]gollm.LLM),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateConfig applies a reloaded configuration. Cached instances are
// dropped when the provider, key or endpoint changed.
func (c *Client) UpdateConfig(cfg config.LLMConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Provider != c.cfg.Provider || cfg.APIKey != c.cfg.APIKey || cfg.Endpoint != c.cfg.Endpoint {
		c.instances = make(map[instanceKey]gollm.LLM)
		c.logger.Info("model provider changed",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
		)
	}
	c.cfg = cfg
}

// Complete sends one chat completion and returns the reply text. Errors wrap
// ErrAuth or ErrTransport.
func (c *Client) Complete(ctx context.Context, req processing.Completion) (string, error) {
	model := req.Model
	if model == "" {
		model = c.currentConfig().Model
	}
	llm, err := c.instance(instanceKey{
		model:       model,
		maxTokens:   req.MaxTokens,
		topP:        req.TopP,
		temperature: req.Temperature,
	})
	if err != nil {
		return "", classify(err)
	}

	if c.counter != nil {
		tokens := c.counter.CountMessages(req.Messages)
		if c.metrics != nil {
			c.metrics.PromptTokens.Observe(float64(tokens))
		}
		c.logger.Debug("sending completion",
			zap.String("model", model),
			zap.Int("prompt_tokens", tokens),
			zap.String("user", req.User),
		)
	}

	prompt := toPrompt(req.Messages)
	var content string
	call := func() error {
		var err error
		content, err = llm.Generate(ctx, prompt)
		return err
	}

	start := time.Now()
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	c.observe(model, start, err)

	if err != nil {
		return "", classify(err)
	}
	return content, nil
}

// Verify sends a minimal completion to check that the provider accepts the
// configured credentials.
func (c *Client) Verify(ctx context.Context) error {
	cfg := c.currentConfig()
	_, err := c.Complete(ctx, processing.Completion{
		Model:       cfg.Model,
		Messages:    []session.Message{{Role: session.RoleUser, Content: "ping"}},
		MaxTokens:   1,
		TopP:        cfg.TopP,
		Temperature: cfg.Temperature,
	})
	return err
}

func (c *Client) currentConfig() config.LLMConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// instance returns the cached gollm instance for key, creating and
// configuring it on first use. Options are only set before the instance is
// shared.
func (c *Client) instance(key instanceKey) (gollm.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if llm, ok := c.instances[key]; ok {
		return llm, nil
	}

	llm, err := c.factory(c.cfg, key.model)
	if err != nil {
		return nil, err
	}
	if key.maxTokens > 0 {
		llm.SetOption("max_tokens", key.maxTokens)
	}
	llm.SetOption("top_p", key.topP)
	llm.SetOption("temperature", key.temperature)

	c.instances[key] = llm
	return llm, nil
}

func (c *Client) observe(model string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ModelLatency.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
}

func toPrompt(msgs []session.Message) *gollm.Prompt {
	prompt := &gollm.Prompt{Messages: make([]gollm.PromptMessage, 0, len(msgs))}
	for _, m := range msgs {
		prompt.Messages = append(prompt.Messages, gollm.PromptMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return prompt
}
