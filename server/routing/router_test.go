package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/hearth/server/handlers"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/middleware"
	"github.com/teilomillet/hearth/server/processing"
	"github.com/teilomillet/hearth/server/session"
	"go.uber.org/zap/zaptest"
)

type echoProcessor struct{}

func (echoProcessor) Process(ctx context.Context, _ processing.Settings, turn processing.Turn) *processing.Result {
	_, hasDeadline := ctx.Deadline()
	speech := "no deadline"
	if hasDeadline {
		speech = "deadline"
	}
	return &processing.Result{ConversationID: "conv", Speech: speech}
}

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	store := session.NewLRUStore(8, time.Hour)
	opts.Conversation = handlers.NewConversationHandler(echoProcessor{}, func() processing.Settings {
		return processing.Settings{}
	}, store, zaptest.NewLogger(t))
	opts.Logger = zaptest.NewLogger(t)
	return NewRouter(opts)
}

func converse(h http.Handler, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation", bytes.NewBufferString(`{"text":"lights on"}`))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterConversation(t *testing.T) {
	h := newTestRouter(t, Options{TurnTimeout: time.Minute})

	rec := converse(h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Response-Time"))

	var resp handlers.ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "deadline", resp.Response.Speech)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/conversation", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation_error"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/conversation", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)
}

func TestRouterAuthentication(t *testing.T) {
	keys := []string{"secret"}
	h := newTestRouter(t, Options{APIKeys: func() []string { return keys }})

	assert.Equal(t, http.StatusUnauthorized, converse(h, "").Code)
	assert.Equal(t, http.StatusOK, converse(h, "secret").Code)

	// Health and metrics stay open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterToggles(t *testing.T) {
	var enabled atomic.Bool
	rl := middleware.NewRateLimiter(1, 1, nil)
	h := newTestRouter(t, Options{
		RateLimit: Toggle{Enabled: enabled.Load, Middleware: rl.Handler},
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, converse(h, "").Code)
	}

	enabled.Store(true)
	assert.Equal(t, http.StatusOK, converse(h, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, converse(h, "").Code)

	// History reads are never rate limited.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversation/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterHealth(t *testing.T) {
	var modelUp atomic.Bool
	modelUp.Store(true)
	h := newTestRouter(t, Options{Health: []HealthCheck{
		{Name: "model", Healthy: modelUp.Load},
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":{"global":true},"services":{"model":"healthy"}}`, rec.Body.String())

	modelUp.Store(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":{"global":false},"services":{"model":"unhealthy"}}`, rec.Body.String())
}

func TestRegisterMetricsRoutes(t *testing.T) {
	m := metrics.NewMetrics()
	h := newTestRouter(t, Options{Metrics: m})

	converse(h, "")
	m.RateLimitHits.WithLabelValues("test_client").Inc()

	server := httptest.NewServer(h)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, metric := range []string{
		"hearth_http_requests_total",
		"hearth_rate_limit_hits_total",
		"hearth_turns_total",
		`endpoint="/v1/conversation"`,
	} {
		assert.Contains(t, string(body), metric, "response should contain metric '%s'", metric)
	}
}
