package kafka

import "github.com/segmentio/kafka-go"

// message adapts a kafka.Message to core.Message.
type message struct {
	raw kafka.Message
}

func (m *message) Topic() string  { return m.raw.Topic }
func (m *message) Partition() int { return m.raw.Partition }
func (m *message) Offset() int64  { return m.raw.Offset }
func (m *message) Key() []byte    { return m.raw.Key }
func (m *message) Value() []byte  { return m.raw.Value }

func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.raw.Headers))
	for _, kh := range m.raw.Headers {
		h[kh.Key] = string(kh.Value)
	}
	return h
}
