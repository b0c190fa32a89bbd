// Package errors provides the error handling system for the hearth bridge.
// It includes structured error types, JSON response formatting, request ID
// tracking, and integrated logging with Uber's zap logger.
//
// Two kinds of errors flow through this package:
//
//   - HTTP-level errors (bad request bodies, rate limiting, panics) are written
//     to the client as JSON with WriteError.
//   - Turn-level errors (template, model, understanding, dispatch failures) are
//     carried on a processing result and rendered by the conversation handler
//     as a normal reply envelope with an error code.
//
// Basic usage:
//
//	errors.ErrorWithType(w, "Not found", errors.NotFoundError, http.StatusNotFound)
//
//	err := errors.NewTemplateError(requestID, "Sorry, I had a problem with my template", renderErr)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents the category of a failure.
type ErrorType string

const (
	// AuthError represents authentication and authorization failures
	AuthError ErrorType = "authentication_error"

	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// ProviderError represents failures talking to the language model
	ProviderError ErrorType = "provider_error"

	// TemplateError represents a preamble template that failed to render
	TemplateError ErrorType = "template_error"

	// UnderstandingError represents a model reply that parsed but lacked the assistant field
	UnderstandingError ErrorType = "understanding_error"

	// DispatchError represents a failed device command
	DispatchError ErrorType = "dispatch_error"

	// DeviceError represents a failure reading device state
	DeviceError ErrorType = "device_error"

	// RateLimitError represents rate limiting errors
	RateLimitError ErrorType = "rate_limit_error"

	// QueueFullError represents a turn rejected because the admission queue is full
	QueueFullError ErrorType = "queue_full"

	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"
)

// HearthError is the error type used across the bridge. It is serialized to
// JSON for API responses while keeping the underlying error for logging.
type HearthError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *HearthError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *HearthError) Unwrap() error {
	return e.err
}

// Is matches on error type only, so errors.Is(err, &HearthError{Type: TemplateError})
// holds for any template error.
func (e *HearthError) Is(target error) bool {
	t, ok := target.(*HearthError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError writes a HearthError as a JSON response with its status code.
func WriteError(w http.ResponseWriter, err *HearthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err)
}

// ErrorWithType is a drop-in replacement for http.Error that writes a
// HearthError of the given type. The request ID is taken from the response
// headers, where the request id middleware puts it.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &HearthError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}
