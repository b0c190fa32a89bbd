package errors

import (
	"net/http"
)

// NewError creates a new HearthError with the given parameters.
// For most cases, use one of the specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "session store unavailable", 500, "req_123", nil, storeErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *HearthError {
	return &HearthError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error, used for missing or
// unknown API keys on the HTTP surface.
func NewAuthError(requestID, message string, err error) *HearthError {
	return &HearthError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewValidationError creates a validation error for malformed requests.
//
// Example:
//
//	err := NewValidationError("req_123", "text is required", map[string]interface{}{
//	    "field": "text",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *HearthError {
	return &HearthError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewRateLimitError creates a rate limit error with a retry hint in seconds.
func NewRateLimitError(requestID string, retryAfter int) *HearthError {
	return &HearthError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewQueueFullError is returned when the turn admission queue has no room.
func NewQueueFullError(requestID string, maxSize int64) *HearthError {
	return &HearthError{
		Type:      QueueFullError,
		Message:   "Too many turns in flight",
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
		Details: map[string]interface{}{
			"max_size": maxSize,
		},
	}
}

// NewProviderError creates an error for a failed model call.
func NewProviderError(requestID string, message string, err error) *HearthError {
	return &HearthError{
		Type:      ProviderError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewTemplateError creates an error for a preamble that could not be rendered.
func NewTemplateError(requestID string, message string, err error) *HearthError {
	return &HearthError{
		Type:      TemplateError,
		Message:   message,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewUnderstandingError creates an error for a model reply that parsed as an
// envelope but carried no assistant text.
func NewUnderstandingError(requestID string, message string, err error) *HearthError {
	return &HearthError{
		Type:      UnderstandingError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewDispatchError creates an error for a device command that failed.
func NewDispatchError(requestID string, message string, err error) *HearthError {
	return &HearthError{
		Type:      DispatchError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewDeviceError creates an error for a failed device snapshot.
func NewDeviceError(requestID string, message string, err error) *HearthError {
	return &HearthError{
		Type:      DeviceError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewNotFoundError creates an error for an unknown resource.
func NewNotFoundError(requestID string, message string) *HearthError {
	return &HearthError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}

// NewInternalError creates an internal server error for unexpected failures
// such as panics.
func NewInternalError(requestID string, err error) *HearthError {
	return &HearthError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
