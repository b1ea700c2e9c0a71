package nats

import (
	"github.com/nats-io/nats.go/jetstream"
)

// message adapts a JetStream message to core.Message. The stream sequence is
// the offset; JetStream streams have a single partition.
type message struct {
	msg jetstream.Msg
	seq uint64
}

func newMessage(msg jetstream.Msg) (*message, error) {
	meta, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	return &message{msg: msg, seq: meta.Sequence.Stream}, nil
}

func (m *message) Topic() string  { return m.msg.Subject() }
func (m *message) Partition() int { return 0 }
func (m *message) Offset() int64  { return int64(m.seq) }
func (m *message) Key() []byte    { return []byte(m.msg.Subject()) }
func (m *message) Value() []byte  { return m.msg.Data() }

func (m *message) Headers() map[string]string {
	raw := m.msg.Headers()
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return h
}
