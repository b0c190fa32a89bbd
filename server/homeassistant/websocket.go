package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teilomillet/hearth/config"
	"go.uber.org/zap"
)

// exposeListCommand lists which entities are exposed to which assistants.
const exposeListCommand = "homeassistant/expose_entity/list"

// wsMessage is the generic WebSocket message format.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSClient runs one-shot commands over the Home Assistant WebSocket API.
// Each call dials, authenticates, sends a single command and closes.
type WSClient struct {
	url     string
	token   string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewWSClient creates a WebSocket client for cfg.
func NewWSClient(cfg config.HomeAssistantConfig, logger *zap.Logger) (*WSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"

	return &WSClient{
		url:     u.String(),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger: logger,
	}, nil
}

// ExposedEntities returns the ids of entities exposed to assistant.
func (c *WSClient) ExposedEntities(ctx context.Context, assistant string) (map[string]bool, error) {
	raw, err := c.command(ctx, map[string]any{"type": exposeListCommand})
	if err != nil {
		return nil, err
	}

	var result struct {
		ExposedEntities map[string]map[string]bool `json:"exposed_entities"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", exposeListCommand, err)
	}

	exposed := make(map[string]bool, len(result.ExposedEntities))
	for id, assistants := range result.ExposedEntities {
		if assistants[assistant] {
			exposed[id] = true
		}
	}
	return exposed, nil
}

func (c *WSClient) command(ctx context.Context, msg map[string]any) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.authenticate(conn); err != nil {
		return nil, err
	}

	const id = 1
	msg["id"] = id
	if err := conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("send %v: %w", msg["type"], err)
	}

	for {
		var resp wsMessage
		if err := conn.ReadJSON(&resp); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read %v response: %w", msg["type"], err)
		}
		if resp.Type != "result" || resp.ID != id {
			c.logger.Debug("ignoring websocket message", zap.String("type", resp.Type), zap.Int64("id", resp.ID))
			continue
		}
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%v: %s: %s", msg["type"], resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("%v: request failed", msg["type"])
		}
		return resp.Result, nil
	}
}

func (c *WSClient) authenticate(conn *websocket.Conn) error {
	var authReq wsMessage
	if err := conn.ReadJSON(&authReq); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": c.token,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch authResp.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("websocket auth: %w", ErrUnauthorized)
	default:
		return fmt.Errorf("unexpected auth response: %s", authResp.Type)
	}
}
