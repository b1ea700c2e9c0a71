package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
)

// Logging returns middleware that logs delivery duration and errors.
// A nil logger falls back to zap.NewNop().
func Logging(logger *zap.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)

			fields := []zap.Field{
				zap.String("topic", c.Topic()),
				zap.Int("partition", c.Partition()),
				zap.Int64("offset", c.Offset()),
				zap.ByteString("key", c.Key()),
				zap.Int("records", len(c.Messages())),
				zap.Int("attempt", c.DeliveryAttempt()),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				logger.Error("Delivery failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("Delivery handled", fields...)
			}
			return err
		}
	}
}
