package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/teilomillet/hearth/errors"
)

// KeySource returns the API keys currently accepted. It is consulted on
// every request so reloaded keys apply immediately.
type KeySource func() []string

// Authentication checks the X-API-Key header, or a bearer token, against
// the configured keys. When no keys are configured every request passes.
func Authentication(keys KeySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := keys()
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			requestID := errors.RequestIDFrom(r.Context())
			presented := presentedKey(r)
			if presented == "" {
				errors.WriteError(w, errors.NewAuthError(requestID, "Missing API key", nil))
				return
			}
			if !keyAllowed(presented, allowed) {
				errors.WriteError(w, errors.NewAuthError(requestID, "Invalid API key", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func keyAllowed(presented string, allowed []string) bool {
	ok := false
	for _, k := range allowed {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}
