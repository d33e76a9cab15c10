package errprocess

import (
	"errors"
	"fmt"

	"chat_relay_service/pkg/logger"

	"go.uber.org/zap"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap log the cause and return it wrapped under kind, so callers can errors.Is(err, kind)
func Wrap(kind error, msg string, cause error, fields ...zap.Field) error {
	if cause == nil {
		logger.Log.Error(msg, fields...)
		return fmt.Errorf("%w: %s", kind, msg)
	}
	logger.Log.Error(msg, append(fields, zap.Error(cause))...)
	return fmt.Errorf("%w: %s: %v", kind, msg, cause)
}
