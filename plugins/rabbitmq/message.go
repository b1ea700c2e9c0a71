package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// message adapts an amqp.Delivery to core.Message. Queues have a single
// partition and the delivery tag is the offset.
type message struct {
	queue    string
	delivery amqp.Delivery
}

func (m *message) Topic() string  { return m.queue }
func (m *message) Partition() int { return 0 }
func (m *message) Offset() int64  { return int64(m.delivery.DeliveryTag) }
func (m *message) Key() []byte    { return []byte(m.delivery.RoutingKey) }
func (m *message) Value() []byte  { return m.delivery.Body }

func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.delivery.Headers))
	for k, v := range m.delivery.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return h
}
