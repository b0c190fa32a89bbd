package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/teilomillet/hearth/errors"
)

// maxBodyBytes bounds the conversation request body.
const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationErrorDetail describes one invalid field.
type ValidationErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type requestKey struct{}

// RequestFrom returns the validated request stored by ValidateConversation.
func RequestFrom(ctx context.Context) (*ConversationRequest, bool) {
	req, ok := ctx.Value(requestKey{}).(*ConversationRequest)
	return req, ok
}

// WithRequest stores req in ctx.
func WithRequest(ctx context.Context, req *ConversationRequest) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// ValidateConversation decodes and validates a conversation request body.
// Invalid requests get a 400 validation_error response; valid ones are
// passed on with the decoded request in the context.
func ValidateConversation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := errors.RequestIDFrom(r.Context())

		sendError := func(message string, details []ValidationErrorDetail) {
			errors.WriteError(w, errors.NewValidationError(requestID, message, map[string]interface{}{
				"errors": details,
			}))
		}

		if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
			sendError("Invalid or missing Content-Type header", []ValidationErrorDetail{{
				Field:   "header:Content-Type",
				Message: "Content-Type must be application/json",
				Code:    "invalid_content_type",
			}})
			return
		}

		var req ConversationRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			sendError("Invalid request format", []ValidationErrorDetail{{
				Field:   "body",
				Message: err.Error(),
				Code:    "invalid_json",
			}})
			return
		}

		if details := Validate(&req); len(details) > 0 {
			sendError("Request validation failed", details)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), &req)))
	})
}

// Validate checks req and returns one detail per invalid field.
func Validate(req *ConversationRequest) []ValidationErrorDetail {
	var details []ValidationErrorDetail
	if err := validate.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []ValidationErrorDetail{{Field: "request", Message: err.Error(), Code: "invalid"}}
		}
		for _, fe := range verrs {
			details = append(details, ValidationErrorDetail{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Code:    fmt.Sprintf("%s_validation_failed", fe.Tag()),
			})
		}
		return details
	}

	if strings.TrimSpace(req.Text) == "" {
		details = append(details, ValidationErrorDetail{
			Field:   "text",
			Message: "field 'text' must not be blank",
			Code:    "required_validation_failed",
		})
	}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s characters", fe.Field(), fe.Param())
	case "printascii":
		return fmt.Sprintf("field '%s' must be printable ASCII", fe.Field())
	default:
		return fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag())
	}
}
