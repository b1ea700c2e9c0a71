package middleware

import (
	"time"

	"github.com/miladsoleymani/ackmux/core"
)

// MetricsCollector is the interface that metrics backends must implement.
// This keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// DeliveryHandled records one handled delivery unit.
	// records is the unit size, duration the processing time,
	// and err is nil on success.
	DeliveryHandled(topic string, records int, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to the given collector.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)
			collector.DeliveryHandled(c.Topic(), len(c.Messages()), time.Since(start), err)
			return err
		}
	}
}
