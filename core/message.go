package core

import (
	"fmt"
	"sort"
)

// Message is the broker-agnostic record abstraction.
// Implementations are provided by broker plugins.
type Message interface {
	Topic() string
	Partition() int
	Offset() int64
	Key() []byte
	Value() []byte
	Headers() map[string]string
}

// Offset is a progress marker: the position of the last processed record in a
// topic partition. Consumers translate it to their own commit position.
type Offset struct {
	Topic     string
	Partition int
	Offset    int64
}

func (o Offset) String() string {
	return fmt.Sprintf("%s-%d@%d", o.Topic, o.Partition, o.Offset)
}

// TopicPartition identifies one partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int
}

func (o Offset) TopicPartition() TopicPartition {
	return TopicPartition{Topic: o.Topic, Partition: o.Partition}
}

// OffsetOf returns the progress marker for msg.
func OffsetOf(msg Message) Offset {
	return Offset{Topic: msg.Topic(), Partition: msg.Partition(), Offset: msg.Offset()}
}

// OffsetSet accumulates the highest processed offset per partition between
// commits. It is not safe for concurrent use; the poll loop owns it.
type OffsetSet struct {
	offsets map[TopicPartition]int64
}

// NewOffsetSet returns an empty set.
func NewOffsetSet() *OffsetSet {
	return &OffsetSet{offsets: make(map[TopicPartition]int64)}
}

// Add records o, keeping the highest offset seen for its partition.
func (s *OffsetSet) Add(o Offset) {
	tp := o.TopicPartition()
	if cur, ok := s.offsets[tp]; ok && cur >= o.Offset {
		return
	}
	s.offsets[tp] = o.Offset
}

// Len returns the number of partitions with pending progress.
func (s *OffsetSet) Len() int { return len(s.offsets) }

// Offsets returns the pending offsets ordered by topic and partition.
func (s *OffsetSet) Offsets() []Offset {
	out := make([]Offset, 0, len(s.offsets))
	for tp, off := range s.offsets {
		out = append(out, Offset{Topic: tp.Topic, Partition: tp.Partition, Offset: off})
	}
	sortOffsets(out)
	return out
}

// Remove drops progress that is covered by committed.
func (s *OffsetSet) Remove(committed []Offset) {
	for _, o := range committed {
		tp := o.TopicPartition()
		if cur, ok := s.offsets[tp]; ok && cur <= o.Offset {
			delete(s.offsets, tp)
		}
	}
}

// Reset drops all pending progress.
func (s *OffsetSet) Reset() {
	clear(s.offsets)
}

// OffsetsOf returns the highest offset per partition found in msgs.
func OffsetsOf(msgs []Message) []Offset {
	set := NewOffsetSet()
	for _, m := range msgs {
		set.Add(OffsetOf(m))
	}
	return set.Offsets()
}

// SplitByPartition groups msgs per partition, preserving consumption order inside
// each group. Groups are ordered by topic and partition.
func SplitByPartition(msgs []Message) [][]Message {
	idx := make(map[TopicPartition]int)
	var keys []TopicPartition
	var groups [][]Message
	for _, m := range msgs {
		tp := TopicPartition{Topic: m.Topic(), Partition: m.Partition()}
		i, ok := idx[tp]
		if !ok {
			i = len(groups)
			idx[tp] = i
			keys = append(keys, tp)
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return lessTP(keys[order[a]], keys[order[b]])
	})
	out := make([][]Message, 0, len(groups))
	for _, i := range order {
		out = append(out, groups[i])
	}
	return out
}

func sortOffsets(offs []Offset) {
	sort.Slice(offs, func(i, j int) bool {
		return lessTP(offs[i].TopicPartition(), offs[j].TopicPartition())
	})
}

func lessTP(a, b TopicPartition) bool {
	if a.Topic != b.Topic {
		return a.Topic < b.Topic
	}
	return a.Partition < b.Partition
}
