package core_test

import (
	"reflect"
	"testing"

	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/internal/mock"
)

func TestOffsetSet_KeepsHighestPerPartition(t *testing.T) {
	s := core.NewOffsetSet()
	s.Add(core.Offset{Topic: "b", Partition: 0, Offset: 3})
	s.Add(core.Offset{Topic: "a", Partition: 1, Offset: 7})
	s.Add(core.Offset{Topic: "a", Partition: 1, Offset: 5})
	s.Add(core.Offset{Topic: "a", Partition: 0, Offset: 2})

	want := []core.Offset{
		{Topic: "a", Partition: 0, Offset: 2},
		{Topic: "a", Partition: 1, Offset: 7},
		{Topic: "b", Partition: 0, Offset: 3},
	}
	if got := s.Offsets(); !reflect.DeepEqual(got, want) {
		t.Errorf("Offsets() = %v, want %v", got, want)
	}
}

func TestOffsetSet_RemoveKeepsNewerProgress(t *testing.T) {
	s := core.NewOffsetSet()
	s.Add(core.Offset{Topic: "a", Offset: 10})
	committed := s.Offsets()
	s.Add(core.Offset{Topic: "a", Offset: 11})
	s.Add(core.Offset{Topic: "b", Offset: 1})

	s.Remove(committed)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	s.Remove(s.Offsets())
	if s.Len() != 0 {
		t.Errorf("Len() = %d after removing all, want 0", s.Len())
	}
}

func TestSplitByPartition(t *testing.T) {
	msgs := []core.Message{
		mock.Record("t", 1, 10, ""),
		mock.Record("t", 0, 20, ""),
		mock.Record("t", 1, 11, ""),
		mock.Record("t", 0, 21, ""),
		mock.Record("s", 5, 1, ""),
	}
	groups := core.SplitByPartition(msgs)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	var got [][]int64
	for _, g := range groups {
		var offs []int64
		for _, m := range g {
			offs = append(offs, m.Offset())
		}
		got = append(got, offs)
	}
	want := [][]int64{{1}, {20, 21}, {10, 11}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}
}

func TestOffsetsOf(t *testing.T) {
	msgs := []core.Message{mock.Record("t", 0, 4, ""), mock.Record("t", 0, 6, ""), mock.Record("t", 0, 5, "")}
	want := []core.Offset{{Topic: "t", Partition: 0, Offset: 6}}
	if got := core.OffsetsOf(msgs); !reflect.DeepEqual(got, want) {
		t.Errorf("OffsetsOf() = %v, want %v", got, want)
	}
}
