package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/middleware"
)

func send(h http.Handler, remote, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation", nil)
	req.RemoteAddr = remote
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	m := metrics.NewMetrics()
	rl := middleware.NewRateLimiter(1, 3, m)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send(handler, "10.0.0.1:1234", "").Code)
	}

	rec := send(handler, "10.0.0.1:5678", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Type    string         `json:"type"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(errors.RateLimitError), body.Type)
	assert.Equal(t, float64(1), body.Details["limit"])
	assert.Equal(t, "1m0s", body.Details["window"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("10.0.0.1")))

	// Other clients have their own budget.
	assert.Equal(t, http.StatusOK, send(handler, "10.0.0.2:1234", "").Code)
	assert.Equal(t, http.StatusOK, send(handler, "10.0.0.1:1234", "key-one").Code)
}

func TestRateLimitSetLimits(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 1, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, send(handler, "10.0.0.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(handler, "10.0.0.1:1", "").Code)

	rl.SetLimits(60, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send(handler, "10.0.0.1:1", "").Code)
	}
}
