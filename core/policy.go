package core

import "time"

// AckPolicy decides when accumulated progress is flushed. It never commits
// itself: every method returns the "commit now" signal for the poll loop, which
// pairs it with the consumer commit. Emitting a signal resets the pending state,
// so re-evaluating without new units never signals twice.
//
// AckPolicy is owned by a single poll loop and is not safe for concurrent use.
type AckPolicy struct {
	mode     AckMode
	count    int
	interval time.Duration

	pending   int
	acked     bool
	lastFlush time.Time
}

// NewAckPolicy returns the policy for mode. count and interval are only used by
// the COUNT, TIME and COUNT_TIME modes and were validated by NewProperties.
func NewAckPolicy(mode AckMode, count int, interval time.Duration, now time.Time) *AckPolicy {
	return &AckPolicy{
		mode:      mode,
		count:     count,
		interval:  interval,
		lastFlush: now,
	}
}

// NewAckPolicyFor builds the policy configured by p.
func NewAckPolicyFor(p *Properties, now time.Time) *AckPolicy {
	return NewAckPolicy(p.AckMode(), p.AckCount(), p.AckTime(), now)
}

// Mode returns the ack mode the policy evaluates.
func (p *AckPolicy) Mode() AckMode { return p.mode }

// Pending returns the number of units handled since the last flush.
func (p *AckPolicy) Pending() int { return p.pending }

// UnitProcessed records one handled unit (a record, or a batch for batch
// handlers) and reports whether progress has to be committed now.
func (p *AckPolicy) UnitProcessed(now time.Time) bool {
	if p.mode.Manual() {
		return false
	}
	p.pending++
	switch p.mode {
	case AckModeRecord:
		return p.flush(now)
	case AckModeCount:
		if p.countReached() {
			return p.flush(now)
		}
	case AckModeTime:
		if p.timeElapsed(now) {
			return p.flush(now)
		}
	case AckModeCountTime:
		if p.countReached() || p.timeElapsed(now) {
			return p.flush(now)
		}
	}
	return false
}

// PollCompleted is evaluated after every unit of a poll was handled, including
// empty polls, and reports whether progress has to be committed now.
func (p *AckPolicy) PollCompleted(now time.Time) bool {
	switch p.mode {
	case AckModeBatch:
		if p.pending > 0 {
			return p.flush(now)
		}
	case AckModeCount:
		if p.countReached() {
			return p.flush(now)
		}
	case AckModeTime:
		if p.pending > 0 && p.timeElapsed(now) {
			return p.flush(now)
		}
	case AckModeCountTime:
		if p.pending > 0 && (p.countReached() || p.timeElapsed(now)) {
			return p.flush(now)
		}
	case AckModeManual:
		if p.acked {
			return p.flush(now)
		}
	}
	return false
}

// Acknowledge records an explicit acknowledgment. In MANUAL mode the flush is
// deferred to the next PollCompleted; in MANUAL_IMMEDIATE mode the signal is
// returned right away so the caller commits synchronously.
func (p *AckPolicy) Acknowledge(now time.Time) (bool, error) {
	switch p.mode {
	case AckModeManual:
		p.acked = true
		return false, nil
	case AckModeManualImmediate:
		return p.flush(now), nil
	default:
		return false, ErrNotManualAck
	}
}

func (p *AckPolicy) countReached() bool {
	return p.pending >= p.count
}

func (p *AckPolicy) timeElapsed(now time.Time) bool {
	return now.Sub(p.lastFlush) >= p.interval
}

func (p *AckPolicy) flush(now time.Time) bool {
	p.pending = 0
	p.acked = false
	p.lastFlush = now
	return true
}
