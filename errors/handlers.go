package errors

import (
	"go.uber.org/zap"
)

// LogError logs an error with its context
func LogError(logger *zap.Logger, err error, requestID string) {
	var hearthErr *HearthError
	if As(err, &hearthErr) {
		logger.Error("request error",
			zap.String("error_type", string(hearthErr.Type)),
			zap.String("message", hearthErr.Message),
			zap.Int("code", hearthErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", hearthErr.Details),
			zap.NamedError("cause", hearthErr.Unwrap()),
		)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
