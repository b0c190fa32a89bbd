package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/teilomillet/hearth/errors"
	"go.uber.org/zap"
)

// Recovery middleware recovers from panics and logs the error
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestID := errors.RequestIDFrom(r.Context())
					logger.Error("panic recovered",
						zap.String("request_id", requestID),
						zap.Any("error", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					errors.WriteError(w, errors.NewInternalError(
						requestID,
						fmt.Errorf("internal server error: %v", rec),
					))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
