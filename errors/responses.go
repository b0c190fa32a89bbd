// Package errors provides error response utilities.
package errors

import (
	"context"
	"errors"
)

type contextKey string

// RequestIDKey is the context key holding the request ID.
const RequestIDKey contextKey = "request_id"

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom returns the request ID stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// ErrorResponse is the JSON shape of an HTTP-level error response.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is a wrapper around errors.New so callers that import this package
// under the name errors keep access to plain sentinel errors.
func New(text string) error {
	return errors.New(text)
}

// TypeOf returns the ErrorType carried by err, or InternalError when err is
// not a HearthError.
func TypeOf(err error) ErrorType {
	var hearthErr *HearthError
	if errors.As(err, &hearthErr) {
		return hearthErr.Type
	}
	return InternalError
}
