package rabbitmq

import (
	"context"
	"fmt"

	"github.com/miladsoleymani/ackmux/core"
)

// TransactionManager runs AMQP channel transactions on the consumer channel
// of the broker. Acks sent inside a transaction take effect on commit.
type TransactionManager struct {
	b *Broker
}

// Begin binds a transaction to the most recent consumer. Channel transactions
// are implicit, so no request is sent until the transaction completes.
func (m *TransactionManager) Begin(_ context.Context, _ core.TxScope) (core.Transaction, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.b.closed {
		return nil, core.ErrBrokerClosed
	}
	if len(m.b.consumers) == 0 {
		return nil, fmt.Errorf("ackmux/rabbitmq: no consumer to run the transaction on")
	}
	return &transaction{c: m.b.consumers[len(m.b.consumers)-1]}, nil
}

type transaction struct {
	c    *consumer
	tags []uint64
}

// SendOffsets acks the covered deliveries inside the transaction.
func (t *transaction) SendOffsets(_ context.Context, offsets []core.Offset, _ string) error {
	tags, err := t.c.ack(offsets)
	if err != nil {
		return err
	}
	t.tags = append(t.tags, tags...)
	return nil
}

func (t *transaction) Commit(context.Context) error {
	if err := t.c.ch.TxCommit(); err != nil {
		return fmt.Errorf("ackmux/rabbitmq: tx commit: %w", err)
	}
	t.c.forget(t.tags)
	return nil
}

func (t *transaction) Rollback(context.Context) error {
	if err := t.c.ch.TxRollback(); err != nil {
		return fmt.Errorf("ackmux/rabbitmq: tx rollback: %w", err)
	}
	return nil
}
