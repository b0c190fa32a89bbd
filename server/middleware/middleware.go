package middleware

import (
	"context"
	"net/http"
	"time"
)

// RequestTimer reports the handler duration in the X-Response-Time header.
// The header is set before the first byte of the body is written.
func RequestTimer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &timedWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(tw, r)
		tw.stamp()
	})
}

// timedWriter stamps X-Response-Time just before the header goes out.
type timedWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (tw *timedWriter) stamp() {
	if tw.stamped {
		return
	}
	tw.stamped = true
	tw.ResponseWriter.Header().Set("X-Response-Time", time.Since(tw.start).String())
}

func (tw *timedWriter) WriteHeader(code int) {
	tw.stamp()
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timedWriter) Write(b []byte) (int, error) {
	tw.stamp()
	return tw.ResponseWriter.Write(b)
}

// Timeout bounds the request context. Handlers see the deadline through
// r.Context(); nothing is written on their behalf. A zero duration leaves
// the context untouched.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
