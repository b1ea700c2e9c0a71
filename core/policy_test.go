package core

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAckPolicy_Record(t *testing.T) {
	p := NewAckPolicy(AckModeRecord, 1, time.Second, epoch)
	for i := 0; i < 3; i++ {
		if !p.UnitProcessed(epoch) {
			t.Fatalf("unit %d: expected commit signal", i)
		}
	}
	if p.PollCompleted(epoch) {
		t.Error("RECORD must not signal again at poll completion")
	}
}

func TestAckPolicy_Batch(t *testing.T) {
	p := NewAckPolicy(AckModeBatch, 1, time.Second, epoch)
	if p.PollCompleted(epoch) {
		t.Fatal("empty poll must not signal")
	}
	for i := 0; i < 5; i++ {
		if p.UnitProcessed(epoch) {
			t.Fatalf("unit %d: BATCH signalled before poll completion", i)
		}
	}
	if !p.PollCompleted(epoch) {
		t.Fatal("expected signal at poll completion")
	}
	if p.PollCompleted(epoch) {
		t.Error("re-evaluation without new units signalled twice")
	}
}

func TestAckPolicy_CountSignalsOnceForThreeRecords(t *testing.T) {
	p := NewAckPolicy(AckModeCount, 3, time.Hour, epoch)

	signals := 0
	for i := 0; i < 3; i++ {
		if p.UnitProcessed(epoch) {
			signals++
		}
	}
	if p.PollCompleted(epoch) {
		signals++
	}
	if signals != 1 {
		t.Errorf("got %d signals, want 1", signals)
	}
	if p.Pending() != 0 {
		t.Errorf("pending = %d after flush, want 0", p.Pending())
	}
}

func TestAckPolicy_CountBelowThreshold(t *testing.T) {
	p := NewAckPolicy(AckModeCount, 3, time.Hour, epoch)
	p.UnitProcessed(epoch)
	p.UnitProcessed(epoch)
	if p.PollCompleted(epoch) {
		t.Error("COUNT signalled below threshold")
	}
	if !p.UnitProcessed(epoch) {
		t.Error("COUNT did not signal at threshold across polls")
	}
}

func TestAckPolicy_Time(t *testing.T) {
	p := NewAckPolicy(AckModeTime, 1, 100*time.Millisecond, epoch)

	if p.UnitProcessed(epoch.Add(50 * time.Millisecond)) {
		t.Fatal("TIME signalled before the interval elapsed")
	}
	if !p.PollCompleted(epoch.Add(100 * time.Millisecond)) {
		t.Fatal("TIME did not signal once the interval elapsed")
	}
	if p.PollCompleted(epoch.Add(500 * time.Millisecond)) {
		t.Error("TIME signalled without pending units")
	}

	// the interval restarts at the flush
	if p.UnitProcessed(epoch.Add(150 * time.Millisecond)) {
		t.Error("TIME signalled before the restarted interval elapsed")
	}
	if !p.UnitProcessed(epoch.Add(200 * time.Millisecond)) {
		t.Error("TIME did not signal after the restarted interval")
	}
}

func TestAckPolicy_CountTime(t *testing.T) {
	p := NewAckPolicy(AckModeCountTime, 2, time.Second, epoch)
	p.UnitProcessed(epoch)
	if !p.UnitProcessed(epoch) {
		t.Fatal("COUNT_TIME did not signal on count")
	}

	p.UnitProcessed(epoch.Add(100 * time.Millisecond))
	if !p.PollCompleted(epoch.Add(1100 * time.Millisecond)) {
		t.Fatal("COUNT_TIME did not signal on time")
	}
}

func TestAckPolicy_Manual(t *testing.T) {
	p := NewAckPolicy(AckModeManual, 1, time.Second, epoch)
	if p.UnitProcessed(epoch) {
		t.Fatal("MANUAL signalled without acknowledgment")
	}
	if p.PollCompleted(epoch) {
		t.Fatal("MANUAL signalled at poll completion without acknowledgment")
	}

	now, err := p.Acknowledge(epoch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if now {
		t.Fatal("MANUAL must defer the flush to poll completion")
	}
	if !p.PollCompleted(epoch) {
		t.Fatal("MANUAL did not signal after acknowledgment")
	}
	if p.PollCompleted(epoch) {
		t.Error("MANUAL signalled twice for one acknowledgment")
	}
}

func TestAckPolicy_ManualImmediate(t *testing.T) {
	p := NewAckPolicy(AckModeManualImmediate, 1, time.Second, epoch)
	if p.UnitProcessed(epoch) || p.PollCompleted(epoch) {
		t.Fatal("MANUAL_IMMEDIATE signalled without acknowledgment")
	}
	now, err := p.Acknowledge(epoch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !now {
		t.Error("MANUAL_IMMEDIATE must flush synchronously")
	}
}

func TestAckPolicy_AcknowledgeNonManual(t *testing.T) {
	for _, mode := range []AckMode{AckModeRecord, AckModeBatch, AckModeTime, AckModeCount, AckModeCountTime} {
		t.Run(mode.String(), func(t *testing.T) {
			p := NewAckPolicy(mode, 1, time.Second, epoch)
			if _, err := p.Acknowledge(epoch); !errors.Is(err, ErrNotManualAck) {
				t.Errorf("got %v, want ErrNotManualAck", err)
			}
		})
	}
}
