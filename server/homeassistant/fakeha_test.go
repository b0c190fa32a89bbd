package homeassistant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teilomillet/hearth/config"
)

const testToken = "secret-token"

// fakeHA serves the parts of the Home Assistant REST and WebSocket APIs the
// bridge uses.
type fakeHA struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	states   []State
	exposed  map[string]map[string]bool
	calls    []serviceCall
	failCall int

	statesHits atomic.Int32
	statesGate chan struct{}
}

type serviceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

func newFakeHA(t *testing.T) *fakeHA {
	f := &fakeHA{
		t: t,
		states: []State{
			{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"brightness": 128.0}},
			{EntityID: "switch.fan", State: "off", Attributes: map[string]any{}},
			{EntityID: "sensor.temperature", State: "21.5", Attributes: map[string]any{}},
			{EntityID: "light.garage", State: "off", Attributes: map[string]any{}},
		},
		exposed: map[string]map[string]bool{
			"light.kitchen":      {"conversation": true},
			"switch.fan":         {"conversation": true, "cloud.alexa": false},
			"light.garage":       {"conversation": false},
			"sensor.temperature": {"conversation": true},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/states", f.handleStates)
	mux.HandleFunc("/api/config", f.handleConfig)
	mux.HandleFunc("/api/services/", f.handleService)
	mux.HandleFunc("/api/websocket", f.handleWebsocket)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeHA) config() config.HomeAssistantConfig {
	return config.HomeAssistantConfig{
		URL:       f.server.URL,
		Token:     testToken,
		Assistant: "conversation",
		Timeout:   5 * time.Second,
	}
}

func (f *fakeHA) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *fakeHA) handleStates(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.statesHits.Add(1)
	if f.statesGate != nil {
		<-f.statesGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(f.states)
}

func (f *fakeHA) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"location_name": "Oak House",
		"time_zone":     "Europe/Amsterdam",
		"version":       "2024.6.0",
	})
}

func (f *fakeHA) handleService(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/")
	if len(parts) != 2 {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCall > 0 {
		f.failCall--
		http.Error(w, "Service not found.", http.StatusBadRequest)
		return
	}
	f.calls = append(f.calls, serviceCall{Domain: parts[0], Service: parts[1], Data: data})
	_, _ = w.Write([]byte("[]"))
}

func (f *fakeHA) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
		return
	}
	var auth map[string]string
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != testToken {
		_ = conn.WriteJSON(map[string]string{"type": "auth_invalid", "message": "Invalid access token"})
		return
	}
	_ = conn.WriteJSON(map[string]string{"type": "auth_ok"})

	for {
		var msg struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case exposeListCommand:
			f.mu.Lock()
			result := map[string]any{"exposed_entities": f.exposed}
			f.mu.Unlock()
			// An unrelated event arrives before the result.
			_ = conn.WriteJSON(map[string]any{"id": 99, "type": "event"})
			_ = conn.WriteJSON(map[string]any{"id": msg.ID, "type": "result", "success": true, "result": result})
		default:
			_ = conn.WriteJSON(map[string]any{
				"id":      msg.ID,
				"type":    "result",
				"success": false,
				"error":   map[string]string{"code": "unknown_command", "message": "Unknown command."},
			})
		}
	}
}

func (f *fakeHA) serviceCalls() []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serviceCall(nil), f.calls...)
}
