// Package homeassistant reads device state from Home Assistant and calls its
// services. It implements the device source and command invoker used by the
// turn processor.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teilomillet/hearth/config"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned when Home Assistant rejects the access token.
	ErrUnauthorized = errors.New("home assistant rejected the access token")
	// ErrNoDomain is returned when a command has no service domain.
	ErrNoDomain = errors.New("no service domain")
)

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 512

// State is an entity state as returned by GET /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part of the entity id before the first dot.
func (s State) Domain() string {
	domain, _, _ := strings.Cut(s.EntityID, ".")
	return domain
}

// Config is the subset of GET /api/config the bridge uses.
type Config struct {
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
}

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a REST client for cfg.
func NewClient(cfg config.HomeAssistantConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// GetConfig retrieves the Home Assistant configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LocationName returns the configured name of the home.
func (c *Client) LocationName(ctx context.Context) (string, error) {
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.LocationName, nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// CallService calls a Home Assistant service, e.g. light.turn_on.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if domain == "" {
		return fmt.Errorf("call %s for %v: %w", service, data["entity_id"], ErrNoDomain)
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	if err := c.do(ctx, http.MethodPost, path, data, nil); err != nil {
		return err
	}
	c.logger.Debug("called service",
		zap.String("domain", domain),
		zap.String("service", service),
		zap.Any("data", data),
	)
	return nil
}

// Invoke implements processing.CommandInvoker.
func (c *Client) Invoke(ctx context.Context, category, action string, data map[string]any) error {
	return c.CallService(ctx, category, action, data)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("request %s: %w", path, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("API error %d on %s: %s", resp.StatusCode, path, strings.TrimSpace(string(msg)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}
