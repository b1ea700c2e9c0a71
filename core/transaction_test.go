package core_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/internal/mock"
)

func newCoordinator(t *testing.T, tm *mock.TransactionManager, opts ...core.Option) *core.Coordinator {
	t.Helper()
	opts = append([]core.Option{
		core.WithTopics("orders"),
		core.WithGroupID("g"),
		core.WithTransactionManager(tm),
	}, opts...)
	p, err := core.NewProperties(opts...)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	c, err := core.NewCoordinator(p, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestCoordinator_CommitSendsOffsets(t *testing.T) {
	tm := mock.NewTransactionManager()
	c := newCoordinator(t, tm)
	msgs := []core.Message{mock.Record("orders", 0, 4, "a"), mock.Record("orders", 0, 5, "b")}

	err := c.Run(context.Background(), c.Scope(msgs), core.OffsetsOf(msgs),
		func(context.Context, map[string]core.Synchronization) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"begin orders-0", "send g orders-0@5", "commit"}
	if got := tm.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestCoordinator_RollbackOnUnhandledFault(t *testing.T) {
	tm := mock.NewTransactionManager()
	db := &mock.Participant{N: "db", Log: tm.Log}
	c := newCoordinator(t, tm, core.WithParticipants(db))
	boom := errors.New("boom")

	err := c.Run(context.Background(), core.TxScope{Group: "g", Partition: -1}, []core.Offset{{Topic: "orders", Offset: 1}},
		func(context.Context, map[string]core.Synchronization) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	want := []string{"begin", "db begin", "db rollback", "rollback"}
	if got := tm.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if tm.Count("send") != 0 {
		t.Error("offsets sent for a rolled back unit")
	}
}

func TestCoordinator_ParticipantsCommitAfterPrimary(t *testing.T) {
	tm := mock.NewTransactionManager()
	db := &mock.Participant{N: "db", Log: tm.Log}
	cache := &mock.Participant{N: "cache", Log: tm.Log}
	c := newCoordinator(t, tm, core.WithParticipants(db, cache))

	var seen []string
	err := c.Run(context.Background(), core.TxScope{Partition: -1}, nil,
		func(_ context.Context, syncs map[string]core.Synchronization) error {
			for name := range syncs {
				seen = append(seen, name)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("handler saw %d synchronizations, want 2", len(seen))
	}

	want := []string{"begin", "db begin", "cache begin", "commit", "db commit", "cache commit"}
	if got := tm.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestCoordinator_SecondaryCommitFailureSurfaced(t *testing.T) {
	tm := mock.NewTransactionManager()
	dbErr := errors.New("connection reset")
	db := &mock.Participant{N: "db", Log: tm.Log, CommitErr: dbErr}
	c := newCoordinator(t, tm, core.WithParticipants(db))
	offsets := []core.Offset{{Topic: "orders", Partition: 2, Offset: 9}}

	err := c.Run(context.Background(), core.TxScope{Partition: -1}, offsets,
		func(context.Context, map[string]core.Synchronization) error { return nil })

	var secondary *core.SecondaryCommitError
	if !errors.As(err, &secondary) {
		t.Fatalf("got %v, want *SecondaryCommitError", err)
	}
	if !errors.Is(err, dbErr) {
		t.Error("secondary error does not wrap the participant fault")
	}
	if !reflect.DeepEqual(secondary.Offsets, offsets) {
		t.Errorf("offsets = %v, want %v", secondary.Offsets, offsets)
	}
	if tm.Count("commit") != 1 {
		t.Error("primary transaction was not committed")
	}
}

func TestCoordinator_CommitFailureRollsBack(t *testing.T) {
	tm := mock.NewTransactionManager()
	tm.CommitErr = fmt.Errorf("epoch: %w", core.ErrFenced)
	c := newCoordinator(t, tm)

	err := c.Run(context.Background(), core.TxScope{Partition: -1}, []core.Offset{{Topic: "orders"}},
		func(context.Context, map[string]core.Synchronization) error { return nil })
	if !core.IsFenced(err) {
		t.Fatalf("got %v, want a fencing fault", err)
	}
	if tm.Count("rollback") != 1 {
		t.Error("failed commit was not rolled back")
	}
}

func TestCoordinator_ScopeNamesSinglePartition(t *testing.T) {
	tm := mock.NewTransactionManager()
	c := newCoordinator(t, tm, core.WithEOSMode(core.EOSModeAlpha))

	one := c.Scope([]core.Message{mock.Record("orders", 3, 1, ""), mock.Record("orders", 3, 2, "")})
	if one.Topic != "orders" || one.Partition != 3 || !one.PerPartition {
		t.Errorf("single partition scope = %+v", one)
	}

	mixed := c.Scope([]core.Message{mock.Record("orders", 3, 1, ""), mock.Record("orders", 4, 2, "")})
	if mixed.Partition != -1 || mixed.Topic != "" {
		t.Errorf("multi partition scope = %+v", mixed)
	}
}

func TestNewCoordinator_RequiresTransactionManager(t *testing.T) {
	p, err := core.NewProperties(core.WithTopics("orders"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := core.NewCoordinator(p, nil); err == nil {
		t.Error("expected error without a transaction manager")
	}
}

func TestFencingResponse(t *testing.T) {
	fenced := fmt.Errorf("produce: %w", core.ErrFenced)

	action, ok := core.FencingResponse(fenced, true)
	if !ok || action != core.FencingStop {
		t.Errorf("stopOnFencing: got %s/%v, want stop", action, ok)
	}
	action, ok = core.FencingResponse(fenced, false)
	if !ok || action != core.FencingDelegate {
		t.Errorf("default: got %s/%v, want delegate", action, ok)
	}
	if _, ok := core.FencingResponse(errors.New("timeout"), true); ok {
		t.Error("non-fencing fault classified as fencing")
	}
}
