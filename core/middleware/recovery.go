package middleware

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error so the container
// hands it to the error handler.
func Recovery(logger *zap.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic recovered in handler",
						zap.Any("panic", r),
						zap.String("topic", c.Topic()),
						zap.Int64("offset", c.Offset()),
						zap.Stack("stack"),
					)
					err = fmt.Errorf("ackmux: panic recovered: %v", r)
				}
			}()
			return next(c)
		}
	}
}
