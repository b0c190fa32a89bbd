// Package config provides configuration management for the hearth bridge.
// It covers the HTTP server, the chat model, the assistant prompt settings,
// the Home Assistant connection, the session store and runtime protection
// (circuit breaker, rate limiting, admission queue).
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config represents the complete bridge configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	Assistant      AssistantConfig      `yaml:"assistant"`
	HomeAssistant  HomeAssistantConfig  `yaml:"home_assistant"`
	Sessions       SessionConfig        `yaml:"sessions"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Queue          QueueConfig          `yaml:"queue"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// A turn includes one model call and several device calls, so keep this generous.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout specifies how long to wait for in-flight turns to finish
	// before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// TurnTimeout bounds one conversation turn, model and device calls
	// included. Zero disables the bound (default: 60s)
	TurnTimeout time.Duration `yaml:"turn_timeout" validate:"gte=0"`

	// APIKeys lists the keys accepted in the X-API-Key header.
	// An empty list disables authentication.
	APIKeys []string `yaml:"api_keys"`
}

// LLMConfig holds the chat model configuration.
type LLMConfig struct {
	// Provider is the gollm provider name (e.g., "openai", "anthropic", "ollama")
	Provider string `yaml:"provider" validate:"required"`

	// Model is the chat model name (default: gpt-3.5-turbo)
	Model string `yaml:"model" validate:"required"`

	// APIKey is the authentication key for the provider's API.
	// Use environment variables (e.g., ${OPENAI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider endpoint, used for Ollama
	Endpoint string `yaml:"endpoint"`

	// MaxTokens caps the length of the generated reply (default: 250)
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`

	// TopP is the nucleus-sampling parameter (default: 1)
	TopP float64 `yaml:"top_p" validate:"gte=0,lte=1"`

	// Temperature is the sampling temperature (default: 0.5)
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	// VerifyOnStart probes the model once at startup. An authentication
	// failure aborts startup.
	VerifyOnStart bool `yaml:"verify_on_start"`
}

// HomeAssistantConfig holds the Home Assistant connection settings.
type HomeAssistantConfig struct {
	// URL is the Home Assistant base URL (e.g., http://homeassistant.local:8123)
	URL string `yaml:"url" validate:"required,url"`

	// Token is a long-lived access token
	Token string `yaml:"token" validate:"required"`

	// Assistant is the assistant id used for the exposure registry (default: conversation)
	Assistant string `yaml:"assistant" validate:"required"`

	// Timeout bounds every REST call (default: 15s)
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SessionConfig bounds the conversation session store.
type SessionConfig struct {
	// MaxEntries is the maximum number of conversations kept (default: 1024)
	MaxEntries int `yaml:"max_entries" validate:"gt=0"`

	// TTL expires a conversation this long after its last successful turn.
	// Reading the history does not extend it. Zero keeps conversations
	// until evicted by size.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// CircuitBreakerConfig configures the breaker around model calls.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"gt=0"`

	// TestMode skips Prometheus metric registration
	TestMode bool `yaml:"test_mode"`
}

// RateLimitConfig configures the per-client rate limiter on the conversation endpoint.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained turn rate per client
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`

	// Burst is the number of turns a client may send at once
	Burst int `yaml:"burst" validate:"gte=0"`
}

// QueueConfig configures the turn admission queue.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// MaxConcurrent is the number of turns processed at the same time
	MaxConcurrent int64 `yaml:"max_concurrent" validate:"gte=0"`

	// MaxPending is the number of turns allowed to wait for a slot
	MaxPending int64 `yaml:"max_pending" validate:"gte=0"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when a field is left out of
// the YAML file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			TurnTimeout:     60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-3.5-turbo",
			MaxTokens:     250,
			TopP:          1,
			Temperature:   0.5,
			VerifyOnStart: true,
		},
		Assistant: AssistantConfig{
			Prompt:          DefaultPrompt,
			LanguageAndMode: DefaultLanguageAndMode,
		},
		HomeAssistant: HomeAssistantConfig{
			URL:       "http://homeassistant.local:8123",
			Assistant: "conversation",
			Timeout:   15 * time.Second,
		},
		Sessions: SessionConfig{
			MaxEntries: 1024,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Queue: QueueConfig{
			Enabled:       false,
			MaxConcurrent: 8,
			MaxPending:    32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Nested
// references are expanded until the string stops changing.
//
// Example Transformations:
//   - "${HASS_TOKEN}" → "eyJhbGciOi..."
//   - "${PORT:-8080}" → "8080" (if PORT is unset)
func expandEnvVars(s string) (string, error) {
	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			envKey := key[:i]
			defaultValue := key[i+2:]
			if val := os.Getenv(envKey); val != "" {
				return val
			}
			return defaultValue
		}
		return os.Getenv(key)
	})

	prev := ""
	for prev != result {
		prev = result
		result = os.Expand(result, os.Getenv)
	}

	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute == 0 {
		return fmt.Errorf("rate limit enabled with zero requests per minute")
	}
	if c.Queue.Enabled && c.Queue.MaxConcurrent == 0 {
		return fmt.Errorf("queue enabled with zero max concurrent turns")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
