// Package middleware provides the HTTP middleware around conversation turns.
package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/teilomillet/hearth/errors"
)

// maxRequestIDLen bounds request ids accepted from clients.
const maxRequestIDLen = 64

// RequestID reuses a well-formed X-Request-ID header or generates a new id,
// stores it in the request context and echoes it in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if !validRequestID(requestID) {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(errors.WithRequestID(r.Context(), requestID)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
