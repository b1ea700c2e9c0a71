package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TransactionDefinition overrides the transaction attributes used for each
// delivery unit.
type TransactionDefinition struct {
	Name    string
	Timeout time.Duration
}

// TxScope describes the delivery unit a transaction is begun for.
type TxScope struct {
	Group string
	// Topic and Partition name the partition of the unit when the unit holds a
	// single partition; Partition is -1 otherwise.
	Topic     string
	Partition int
	// PerPartition asks the resource for a transactional identity dedicated to
	// Topic/Partition (EOS mode ALPHA).
	PerPartition bool
	Definition   *TransactionDefinition
}

// TransactionManager begins broker transactions. It is shared by every
// partition of a container.
type TransactionManager interface {
	Begin(ctx context.Context, scope TxScope) (Transaction, error)
}

// Transaction is exclusively owned by the goroutine processing one delivery unit.
type Transaction interface {
	// SendOffsets enlists the progress markers in the transaction so they are
	// committed atomically with it.
	SendOffsets(ctx context.Context, offsets []Offset, group string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Synchronization is a secondary transaction, for example a database
// transaction, that completes together with the broker transaction.
type Synchronization interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Participant begins a Synchronization for each delivery unit. The
// synchronization is stored in the handler Context under Name.
type Participant interface {
	Name() string
	Begin(ctx context.Context) (Synchronization, error)
}

// Coordinator runs delivery units inside broker transactions and enlists the
// consumed offsets in them instead of committing through the consumer.
type Coordinator struct {
	tm           TransactionManager
	participants []Participant
	group        string
	definition   *TransactionDefinition
	perPartition bool
	logger       *zap.Logger
}

// NewCoordinator builds a Coordinator from transactional Properties.
func NewCoordinator(p *Properties, logger *zap.Logger) (*Coordinator, error) {
	if p.TransactionManager() == nil {
		return nil, fmt.Errorf("ackmux: coordinator requires a transaction manager")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		tm:           p.TransactionManager(),
		participants: p.Participants(),
		group:        p.GroupID(),
		definition:   p.TransactionDefinition(),
		perPartition: p.EOSMode() == EOSModeAlpha,
		logger:       logger,
	}, nil
}

// Scope returns the TxScope for a delivery unit made of msgs.
func (c *Coordinator) Scope(msgs []Message) TxScope {
	offsets := make([]Offset, len(msgs))
	for i, m := range msgs {
		offsets[i] = OffsetOf(m)
	}
	return c.scopeOf(offsets)
}

func (c *Coordinator) scopeOf(offsets []Offset) TxScope {
	scope := TxScope{
		Group:        c.group,
		Partition:    -1,
		PerPartition: c.perPartition,
		Definition:   c.definition,
	}
	if len(offsets) == 0 {
		return scope
	}
	first := offsets[0]
	for _, o := range offsets[1:] {
		if o.Topic != first.Topic || o.Partition != first.Partition {
			return scope
		}
	}
	scope.Topic = first.Topic
	scope.Partition = first.Partition
	return scope
}

// Run begins a transaction for scope, invokes fn and then either commits,
// enlisting offsets, or rolls back when fn returns an error. Synchronizations
// begun by the participants are handed to fn and committed after the broker
// transaction; their failures are reported as *SecondaryCommitError.
func (c *Coordinator) Run(ctx context.Context, scope TxScope, offsets []Offset,
	fn func(ctx context.Context, syncs map[string]Synchronization) error) error {
	if scope.Definition != nil && scope.Definition.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scope.Definition.Timeout)
		defer cancel()
	}

	tx, err := c.tm.Begin(ctx, scope)
	if err != nil {
		return fmt.Errorf("ackmux: begin transaction: %w", err)
	}

	syncs := make(map[string]Synchronization, len(c.participants))
	order := make([]string, 0, len(c.participants))
	for _, p := range c.participants {
		s, err := p.Begin(ctx)
		if err != nil {
			c.rollback(ctx, tx, order, syncs)
			return fmt.Errorf("ackmux: begin %s transaction: %w", p.Name(), err)
		}
		syncs[p.Name()] = s
		order = append(order, p.Name())
	}

	if err := fn(ctx, syncs); err != nil {
		c.rollback(ctx, tx, order, syncs)
		return err
	}

	if len(offsets) > 0 {
		if err := tx.SendOffsets(ctx, offsets, c.group); err != nil {
			c.rollback(ctx, tx, order, syncs)
			return fmt.Errorf("ackmux: send offsets to transaction: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		c.rollback(ctx, tx, order, syncs)
		return fmt.Errorf("ackmux: commit transaction: %w", err)
	}

	var errs []error
	for _, name := range order {
		if err := syncs[name].Commit(ctx); err != nil {
			c.logger.Error("Secondary transaction commit failed after broker commit",
				zap.String("participant", name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return &SecondaryCommitError{Offsets: offsets, Err: errors.Join(errs...)}
	}
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, tx Transaction, order []string, syncs map[string]Synchronization) {
	for i := len(order) - 1; i >= 0; i-- {
		if err := syncs[order[i]].Rollback(ctx); err != nil {
			c.logger.Warn("Secondary transaction rollback failed",
				zap.String("participant", order[i]),
				zap.Error(err),
			)
		}
	}
	if err := tx.Rollback(ctx); err != nil {
		c.logger.Warn("Transaction rollback failed", zap.Error(err))
	}
}

// FencingAction is the container-level response to a fenced transactional resource.
type FencingAction int

const (
	// FencingDelegate hands the fault to the ErrorHandler.
	FencingDelegate FencingAction = iota + 1
	// FencingStop stops the container.
	FencingStop
)

func (a FencingAction) String() string {
	switch a {
	case FencingDelegate:
		return "delegate"
	case FencingStop:
		return "stop"
	default:
		return fmt.Sprintf("FencingAction(%d)", int(a))
	}
}

// FencingResponse returns the action for err and whether err is a fencing fault
// at all. Whether fencing came from a rebalance or a transaction timeout cannot
// be told apart, so stopOnFencing halts unconditionally.
func FencingResponse(err error, stopOnFencing bool) (FencingAction, bool) {
	if !IsFenced(err) {
		return 0, false
	}
	if stopOnFencing {
		return FencingStop, true
	}
	return FencingDelegate, true
}
