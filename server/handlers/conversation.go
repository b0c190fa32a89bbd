// Package handlers provides the HTTP handlers of the bridge: one
// conversation turn per POST, plus read and delete access to stored
// conversations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/processing"
	"github.com/teilomillet/hearth/server/session"
	"github.com/teilomillet/hearth/server/validation"
	"go.uber.org/zap"
)

// Response types, as Home Assistant names them.
const (
	ResponseActionDone = "action_done"
	ResponseError      = "error"
)

// errorCodeUnknown is the only error code a turn reports.
const errorCodeUnknown = "unknown"

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	Process(ctx context.Context, settings processing.Settings, turn processing.Turn) *processing.Result
}

// SettingsFunc returns the settings for the next turn.
type SettingsFunc func() processing.Settings

// ConversationResponse is the body returned for a turn.
type ConversationResponse struct {
	ConversationID string       `json:"conversation_id"`
	Response       IntentResult `json:"response"`
}

// IntentResult carries what the assistant says back.
type IntentResult struct {
	ResponseType string `json:"response_type"`
	Language     string `json:"language,omitempty"`
	Speech       string `json:"speech"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// HistoryResponse is the body returned for a stored conversation.
type HistoryResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []session.Message `json:"messages"`
}

// ConversationHandler serves the /v1/conversation endpoints.
type ConversationHandler struct {
	processor TurnProcessor
	settings  SettingsFunc
	store     session.Store
	logger    *zap.Logger
}

// NewConversationHandler creates a handler. settings is called once per turn.
func NewConversationHandler(processor TurnProcessor, settings SettingsFunc, store session.Store, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		processor: processor,
		settings:  settings,
		store:     store,
		logger:    logger,
	}
}

// Routes mounts the handlers on r. turnMiddleware wraps only the POST
// route, which is where admission control belongs.
func (h *ConversationHandler) Routes(r chi.Router, turnMiddleware ...func(http.Handler) http.Handler) {
	turn := append([]func(http.Handler) http.Handler{}, turnMiddleware...)
	turn = append(turn, validation.ValidateConversation)

	r.With(turn...).Post("/conversation", h.Converse)
	r.Get("/conversation/{id}", h.History)
	r.Delete("/conversation/{id}", h.Forget)
}

// Converse runs one turn. Turn failures are reported inside a 200 response
// with response_type "error"; only malformed requests get an error status.
func (h *ConversationHandler) Converse(w http.ResponseWriter, r *http.Request) {
	requestID := errors.RequestIDFrom(r.Context())
	req, ok := validation.RequestFrom(r.Context())
	if !ok {
		errors.WriteError(w, errors.NewValidationError(requestID, "Missing conversation request", nil))
		return
	}

	result := h.processor.Process(r.Context(), h.settings(), processing.Turn{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		Language:       req.Language,
	})

	resp := ConversationResponse{
		ConversationID: result.ConversationID,
		Response: IntentResult{
			ResponseType: ResponseActionDone,
			Language:     req.Language,
			Speech:       result.Speech,
		},
	}
	if result.Err != nil {
		resp.Response.ResponseType = ResponseError
		resp.Response.ErrorCode = errorCodeUnknown
		errors.LogError(h.logger, result.Err, requestID)
	} else {
		h.logger.Info("turn completed",
			zap.String("request_id", requestID),
			zap.String("conversation_id", result.ConversationID),
			zap.Int("actions", result.Actions),
			zap.String("strategy", result.Strategy),
		)
	}

	writeJSON(w, http.StatusOK, resp)
}

// History returns the stored messages of a conversation.
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, ok := h.store.Get(id)
	if !ok {
		errors.WriteError(w, errors.NewNotFoundError(errors.RequestIDFrom(r.Context()), "Conversation not found"))
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ConversationID: id, Messages: messages})
}

// Forget removes a stored conversation.
func (h *ConversationHandler) Forget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.Evict(id) {
		errors.WriteError(w, errors.NewNotFoundError(errors.RequestIDFrom(r.Context()), "Conversation not found"))
		return
	}
	h.logger.Info("conversation forgotten",
		zap.String("request_id", errors.RequestIDFrom(r.Context())),
		zap.String("conversation_id", id),
	)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
