package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// loop is the single poll loop of a started Container. Commit state (pending
// offsets, ack policy, delivery attempts) is only touched by the goroutine
// running it, so none of it is locked.
type loop struct {
	props    *Properties
	consumer Consumer
	routes   *routeTable
	batch    HandlerFunc
	binder   Binder
	logger   *zap.Logger
	observer Observer
	idle     IdleFunc
	failures chan error
	clock    func() time.Time

	errorHandler ErrorHandler
	policy       *AckPolicy
	coord        *Coordinator
	pending      *OffsetSet
	attempts     map[Offset]int
	held         map[TopicPartition]int64
	lastPoll     atomic.Int64
	lastReceive  time.Time
	lastIdle     time.Time
}

func (l *loop) run(ctx context.Context) error {
	now := l.clock()
	l.pending = NewOffsetSet()
	l.attempts = make(map[Offset]int)
	l.held = make(map[TopicPartition]int64)
	l.lastReceive, l.lastIdle = now, now
	l.lastPoll.Store(now.UnixNano())

	l.errorHandler = l.props.ErrorHandler()
	switch {
	case l.errorHandler != nil:
	case l.props.Transactional():
		// unhandled by default: the transaction rolls back
		l.errorHandler = ErrorHandlerFunc(func(_ context.Context, err error, _ []Message) error { return err })
	default:
		l.errorHandler = LoggingErrorHandler{Logger: l.logger}
	}
	if l.props.Transactional() {
		coord, err := NewCoordinator(l.props, l.logger)
		if err != nil {
			return err
		}
		l.coord = coord
	} else {
		l.policy = NewAckPolicyFor(l.props, now)
	}
	if aware, ok := l.consumer.(AssignmentAware); ok {
		aware.OnAssigned(l.onAssigned)
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.monitor(monitorCtx)
	}()
	defer func() {
		stopMonitor()
		wg.Wait()
	}()

	l.logger.Info("Listener container running",
		zap.Stringer("ackMode", EffectiveAckMode(l.props, l.batch != nil)),
		zap.Bool("transactional", l.props.Transactional()),
		zap.Bool("subBatchPerPartition", l.props.SubBatchPerPartition()),
		zap.Stringer("eosMode", l.props.EOSMode()),
	)

	err := l.pollLoop(ctx)
	if ferr := l.flushOnShutdown(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	l.logger.Info("Listener container stopped")
	return err
}

func (l *loop) pollLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := l.consumer.Poll(ctx)
		now := l.clock()
		l.lastPoll.Store(now.UnixNano())
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("ackmux: poll: %w", err)
		}

		if len(msgs) == 0 {
			l.maybeIdle(ctx, now)
		} else {
			l.lastReceive = now
			if err := l.process(ctx, msgs); err != nil {
				return err
			}
		}

		if l.policy != nil && l.policy.PollCompleted(l.clock()) {
			// failures are logged and the offsets retried with the next commit
			_ = l.commitPending(ctx)
		}

		if d := l.props.IdleBetweenPolls(); d > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d):
			}
		}
	}
}

// process handles the records of one poll. Once a stop was requested no new
// delivery unit is started; unprocessed records are not committed.
func (l *loop) process(ctx context.Context, msgs []Message) error {
	l.release(msgs)
	for _, unit := range l.units(msgs) {
		if ctx.Err() != nil {
			return nil
		}
		var err error
		if l.coord != nil {
			err = l.runTransaction(ctx, unit)
		} else {
			err = l.runUnit(ctx, unit)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *loop) units(msgs []Message) [][]Message {
	if l.batch == nil {
		units := make([][]Message, len(msgs))
		for i, m := range msgs {
			units[i] = []Message{m}
		}
		return units
	}
	if l.props.SubBatchPerPartition() {
		return SplitByPartition(msgs)
	}
	return [][]Message{msgs}
}

// runUnit handles a delivery unit without a transaction manager and applies
// the ack policy.
func (l *loop) runUnit(ctx context.Context, unit []Message) error {
	unitCtx, cancel := detach(ctx, l.props.ShutdownTimeout())
	defer cancel()

	faulted, err := l.dispatch(unitCtx, unit, nil, l.ackFunc(unitCtx, unit))
	if err != nil {
		if errors.Is(err, ErrStopContainer) {
			return err
		}
		l.logger.Error("Delivery fault not recovered, offsets are not committed",
			zap.Error(err),
			zap.String("topic", unit[0].Topic()),
			zap.Int("partition", unit[0].Partition()),
			zap.Int64("offset", unit[0].Offset()),
		)
	}

	processed := err == nil && (!faulted || l.errorHandler.AckAfterHandle())
	if !processed {
		l.hold(unit)
	} else if !l.policy.Mode().Manual() {
		for _, o := range l.progress(OffsetsOf(unit)) {
			l.pending.Add(o)
		}
	}
	if l.policy.UnitProcessed(l.clock()) {
		// failures are logged and the offsets retried with the next commit
		_ = l.commitPending(unitCtx)
	}
	return nil
}

// runTransaction handles a delivery unit inside a broker transaction. The ack
// policy is bypassed: offsets are enlisted in the transaction.
func (l *loop) runTransaction(ctx context.Context, unit []Message) error {
	unitCtx, cancel := detach(ctx, l.props.ShutdownTimeout())
	defer cancel()

	offsets := l.progress(OffsetsOf(unit))
	noop := func() error { return nil }
	err := l.coord.Run(unitCtx, l.coord.Scope(unit), offsets,
		func(txCtx context.Context, syncs map[string]Synchronization) error {
			_, err := l.dispatch(txCtx, unit, syncs, noop)
			return err
		})
	if err == nil {
		l.forgetAttempts(offsets)
		l.observer.Committed(len(offsets), true)
		return nil
	}

	var secondary *SecondaryCommitError
	if errors.As(err, &secondary) {
		l.forgetAttempts(offsets)
		l.observer.Committed(len(offsets), true)
		l.observer.SecondaryCommitFailed(err)
		l.fail(err)
		return nil
	}

	// the broker transaction did not commit: nothing of unit is consumed
	l.hold(unit)
	if action, fenced := FencingResponse(err, l.props.StopOnFencing()); fenced {
		l.observer.Fenced(action)
		if action == FencingStop {
			l.logger.Error("Transactional resource fenced, stopping container", zap.Error(err))
			return fmt.Errorf("ackmux: container stopped after fencing: %w", err)
		}
		l.logger.Warn("Transactional resource fenced, delegating to error handler", zap.Error(err))
		if herr := l.errorHandler.HandleError(unitCtx, err, unit); herr != nil {
			if errors.Is(herr, ErrStopContainer) {
				return herr
			}
			l.fail(herr)
		}
		return nil
	}

	l.observer.RolledBack(err)
	if errors.Is(err, ErrStopContainer) {
		return err
	}
	l.logger.Warn("Transaction rolled back",
		zap.Error(err),
		zap.String("topic", unit[0].Topic()),
		zap.Int("partition", unit[0].Partition()),
		zap.Int64("offset", unit[0].Offset()),
	)
	return nil
}

// dispatch invokes the handler for unit and, on failure, the error handler.
// faulted reports a handler failure; err is the fault the error handler did
// not recover.
func (l *loop) dispatch(ctx context.Context, unit []Message, syncs map[string]Synchronization, ack func() error) (faulted bool, err error) {
	c := newContext(ctx, unit, contextOptions{
		binder:  l.binder,
		attempt: l.nextAttempt(unit),
		header:  l.props.DeliveryAttemptHeader(),
		ack:     ack,
	})
	for name, s := range syncs {
		c.Set(name, s)
	}

	h := l.batch
	if h == nil {
		var ok bool
		if h, ok = l.routes.lookup(unit[0].Topic()); !ok {
			h = func(Context) error {
				return fmt.Errorf("%w %q", ErrNoHandler, unit[0].Topic())
			}
		}
	}

	herr := h(c)
	if herr == nil {
		return false, nil
	}
	return true, l.errorHandler.HandleError(ctx, herr, unit)
}

// ackFunc returns the acknowledgment exposed to handlers. It is nil outside
// the manual ack modes, which makes Context.Ack fail.
func (l *loop) ackFunc(ctx context.Context, unit []Message) func() error {
	if !l.policy.Mode().Manual() {
		return nil
	}
	return func() error {
		for _, o := range l.progress(OffsetsOf(unit)) {
			l.pending.Add(o)
		}
		commitNow, err := l.policy.Acknowledge(l.clock())
		if err != nil {
			return err
		}
		if commitNow {
			return l.commitPending(ctx)
		}
		return nil
	}
}

// commitPending synchronously commits pending offsets. The commit is not
// interrupted by a stop request; it is bounded by the sync commit timeout.
// Offsets stay pending when the commit fails and are retried with the next one.
func (l *loop) commitPending(ctx context.Context) error {
	if l.pending.Len() == 0 {
		return nil
	}
	offsets := l.pending.Offsets()
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.props.SyncCommitTimeout())
	defer cancel()

	if err := l.consumer.Commit(commitCtx, offsets); err != nil {
		l.logger.Error("Failed to commit offsets",
			zap.Error(err),
			zap.Int("partitions", len(offsets)),
		)
		return fmt.Errorf("ackmux: commit offsets: %w", err)
	}
	l.pending.Remove(offsets)
	l.forgetAttempts(offsets)
	l.observer.Committed(len(offsets), false)
	l.logger.Debug("Committed offsets", zap.Any("offsets", offsets))
	return nil
}

func (l *loop) flushOnShutdown(ctx context.Context) error {
	if l.policy == nil || l.pending.Len() == 0 {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.props.ShutdownTimeout())
	defer cancel()
	return l.commitPending(shutdownCtx)
}

// onAssigned commits the current position of newly assigned partitions that
// have no committed offset, per the assignment commit option.
func (l *loop) onAssigned(ctx context.Context, positions []Offset) {
	if len(positions) == 0 || !ShouldCommitOnAssignment(
		l.props.AssignmentCommitOption(), l.props.Transactional(), l.props.AutoOffsetReset()) {
		return
	}
	// positions name the next record to consume; commits take the last processed one
	offsets := make([]Offset, len(positions))
	for i, p := range positions {
		offsets[i] = Offset{Topic: p.Topic, Partition: p.Partition, Offset: p.Offset - 1}
	}

	if l.coord != nil {
		units := [][]Offset{offsets}
		if l.coord.perPartition {
			// one transactional identity per partition under EOS mode ALPHA
			units = make([][]Offset, len(offsets))
			for i, o := range offsets {
				units[i] = []Offset{o}
			}
		}
		noop := func(context.Context, map[string]Synchronization) error { return nil }
		for _, unit := range units {
			if err := l.coord.Run(ctx, l.coord.scopeOf(unit), unit, noop); err != nil {
				l.logger.Error("Failed to commit positions on assignment", zap.Error(err))
				continue
			}
			l.observer.Committed(len(unit), true)
		}
		return
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.props.SyncCommitTimeout())
	defer cancel()
	if err := l.consumer.Commit(commitCtx, offsets); err != nil {
		l.logger.Error("Failed to commit positions on assignment", zap.Error(err))
		return
	}
	l.observer.Committed(len(offsets), false)
}

// hold stops committing progress on the partitions of a unit that was not
// consumed. Later records of a held partition are still handled, but their
// offsets are only committed once the failed record is delivered again.
func (l *loop) hold(unit []Message) {
	for _, m := range unit {
		tp := TopicPartition{Topic: m.Topic(), Partition: m.Partition()}
		if failed, ok := l.held[tp]; ok && failed <= m.Offset() {
			continue
		}
		l.held[tp] = m.Offset()
		l.logger.Warn("Holding back commits until the failed record is redelivered",
			zap.String("topic", tp.Topic),
			zap.Int("partition", tp.Partition),
			zap.Int64("offset", m.Offset()),
		)
	}
}

// release lifts the hold of partitions whose failed record is delivered again.
func (l *loop) release(msgs []Message) {
	if len(l.held) == 0 {
		return
	}
	for _, m := range msgs {
		tp := TopicPartition{Topic: m.Topic(), Partition: m.Partition()}
		if failed, ok := l.held[tp]; ok && m.Offset() <= failed {
			delete(l.held, tp)
		}
	}
}

// progress drops the offsets of held partitions at or past the failed record.
func (l *loop) progress(offsets []Offset) []Offset {
	if len(l.held) == 0 {
		return offsets
	}
	out := make([]Offset, 0, len(offsets))
	for _, o := range offsets {
		if failed, ok := l.held[o.TopicPartition()]; ok && o.Offset >= failed {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (l *loop) nextAttempt(unit []Message) int {
	for _, m := range unit {
		l.attempts[OffsetOf(m)]++
	}
	return l.attempts[OffsetOf(unit[0])]
}

func (l *loop) forgetAttempts(committed []Offset) {
	for key := range l.attempts {
		for _, o := range committed {
			if key.Topic == o.Topic && key.Partition == o.Partition && key.Offset <= o.Offset {
				delete(l.attempts, key)
				break
			}
		}
	}
}

func (l *loop) maybeIdle(ctx context.Context, now time.Time) {
	interval := l.props.IdleEventInterval()
	if interval <= 0 {
		return
	}
	idleFor := now.Sub(l.lastReceive)
	if idleFor < interval || now.Sub(l.lastIdle) < interval {
		return
	}
	l.lastIdle = now
	l.logger.Debug("Listener container idle", zap.Duration("idleFor", idleFor))
	if l.idle != nil {
		l.idle(ctx, idleFor)
	}
}

// monitor warns when the poll loop has not polled for noPollThreshold poll timeouts.
func (l *loop) monitor(ctx context.Context) {
	ticker := time.NewTicker(l.props.MonitorInterval())
	defer ticker.Stop()
	threshold := time.Duration(float64(l.props.PollTimeout()) * l.props.NoPollThreshold())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, l.lastPoll.Load()))
			if since > threshold {
				l.logger.Warn("Consumer poll loop is not responsive",
					zap.Duration("sinceLastPoll", since),
					zap.Duration("threshold", threshold),
				)
			}
		}
	}
}

func (l *loop) fail(err error) {
	select {
	case l.failures <- err:
	default:
		l.logger.Error("Failure channel full, dropping container fault", zap.Error(err))
	}
}

// detach returns a context that survives cancellation of parent for at most
// grace, so an in-flight unit can finish its commit or transaction.
func detach(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
