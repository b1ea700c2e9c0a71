package mock

// Message is a simple core.Message implementation for testing.
type Message struct {
	T   string
	P   int
	Off int64
	K   []byte
	V   []byte
	H   map[string]string
}

// Record returns a Message for topic/partition at offset with value v.
func Record(topic string, partition int, offset int64, v string) *Message {
	return &Message{T: topic, P: partition, Off: offset, V: []byte(v)}
}

func (m *Message) Topic() string              { return m.T }
func (m *Message) Partition() int             { return m.P }
func (m *Message) Offset() int64              { return m.Off }
func (m *Message) Key() []byte                { return m.K }
func (m *Message) Value() []byte              { return m.V }
func (m *Message) Headers() map[string]string { return m.H }
