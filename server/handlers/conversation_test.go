package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/middleware"
	"github.com/teilomillet/hearth/server/processing"
	"github.com/teilomillet/hearth/server/session"
	"go.uber.org/zap/zaptest"
)

// fakeProcessor returns a canned result and records what it was given.
type fakeProcessor struct {
	result   *processing.Result
	settings processing.Settings
	turn     processing.Turn
	ctx      context.Context
}

func (f *fakeProcessor) Process(ctx context.Context, settings processing.Settings, turn processing.Turn) *processing.Result {
	f.ctx = ctx
	f.settings = settings
	f.turn = turn
	return f.result
}

func setup(t *testing.T, proc *fakeProcessor) (http.Handler, session.Store) {
	t.Helper()
	store := session.NewLRUStore(16, time.Hour)
	settings := processing.Settings{Model: "gpt-3.5-turbo", Mode: processing.DefaultMode}
	h := NewConversationHandler(proc, func() processing.Settings { return settings }, store, zaptest.NewLogger(t))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Route("/v1", func(r chi.Router) { h.Routes(r) })
	return r, store
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConverse(t *testing.T) {
	proc := &fakeProcessor{result: &processing.Result{
		ConversationID: "conv-1",
		Speech:         "The kitchen light is on.",
		Actions:        1,
		Strategy:       processing.StrategyStrict,
	}}
	h, _ := setup(t, proc)

	rec := post(t, h, `{"text":"turn on the kitchen light","conversation_id":"conv-1","language":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, ResponseActionDone, resp.Response.ResponseType)
	assert.Equal(t, "The kitchen light is on.", resp.Response.Speech)
	assert.Equal(t, "en", resp.Response.Language)
	assert.Empty(t, resp.Response.ErrorCode)

	assert.Equal(t, processing.Turn{Text: "turn on the kitchen light", ConversationID: "conv-1", Language: "en"}, proc.turn)
	assert.Equal(t, "gpt-3.5-turbo", proc.settings.Model)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), errors.RequestIDFrom(proc.ctx))
}

func TestConverseTurnError(t *testing.T) {
	cause := errors.New("connection refused")
	proc := &fakeProcessor{result: &processing.Result{
		ConversationID: "conv-2",
		Speech:         "Sorry, I had a problem talking to the model: connection refused",
		Err:            errors.NewProviderError("req", "Sorry, I had a problem talking to the model: connection refused", cause),
	}}
	h, _ := setup(t, proc)

	rec := post(t, h, `{"text":"lights off"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "conv-2", resp.ConversationID)
	assert.Equal(t, ResponseError, resp.Response.ResponseType)
	assert.Equal(t, "unknown", resp.Response.ErrorCode)
	assert.Equal(t, "Sorry, I had a problem talking to the model: connection refused", resp.Response.Speech)
}

func TestConverseRejectsMalformedRequest(t *testing.T) {
	proc := &fakeProcessor{}
	h, _ := setup(t, proc)

	rec := post(t, h, `{"conversation_id":"conv-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.ValidationError))
	assert.Nil(t, proc.ctx, "processor must not run")
}

func TestHistoryAndForget(t *testing.T) {
	h, store := setup(t, &fakeProcessor{})
	store.Put("conv-1", []session.Message{
		{Role: session.RoleSystem, Content: "preamble"},
		{Role: session.RoleUser, Content: "lights on"},
		{Role: session.RoleAssistant, Content: "Done."},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversation/conv-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	assert.Equal(t, "conv-1", hist.ConversationID)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, session.RoleAssistant, hist.Messages[2].Role)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/conversation/conv-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversation/conv-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.NotFoundError))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/conversation/conv-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
