package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
)

// producerFenced is the PRODUCER_FENCED error code (KIP-588).
const producerFenced = kafka.Error(90)

// TransactionManager runs offset-only Kafka transactions through the
// transaction coordinator. Producer sessions are initialized once per
// transactional id; initializing a session fences older instances using the
// same id.
type TransactionManager struct {
	client  *kafka.Client
	prefix  string
	suffix  string
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]kafka.ProducerSession
	shared   sync.Once
}

func newTransactionManager(client *kafka.Client, prefix string, timeout time.Duration, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{
		client:   client,
		prefix:   prefix,
		suffix:   uuid.NewString(),
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]kafka.ProducerSession),
	}
}

// Begin returns a transaction bound to the transactional id of scope.
func (m *TransactionManager) Begin(ctx context.Context, scope core.TxScope) (core.Transaction, error) {
	id := transactionalID(m.prefix, m.suffix, scope)
	if !scope.PerPartition {
		m.shared.Do(m.warnSharedID)
	}
	session, err := m.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return &transaction{m: m, id: id, session: session}, nil
}

func (m *TransactionManager) session(ctx context.Context, id string) (kafka.ProducerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	resp, err := m.client.InitProducerID(ctx, &kafka.InitProducerIDRequest{
		TransactionalID:      id,
		TransactionTimeoutMs: int(m.timeout / time.Millisecond),
	})
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		return kafka.ProducerSession{}, fmt.Errorf("ackmux/kafka: init producer %q: %w", id, mapFenced(err))
	}
	if resp.Producer == nil {
		return kafka.ProducerSession{}, fmt.Errorf("ackmux/kafka: init producer %q: empty session", id)
	}
	m.sessions[id] = *resp.Producer
	m.logger.Debug("Initialized transactional producer",
		zap.String("transactionalID", id),
		zap.Int("producerID", resp.Producer.ProducerID),
		zap.Int("epoch", resp.Producer.ProducerEpoch),
	)
	return *resp.Producer, nil
}

// warnSharedID reports that a shared transactional id is not fenced by group
// generation: the group reader does not expose its generation id or member id,
// so offsets are committed with generation -1 and the coordinator cannot
// reject a zombie instance after a rebalance.
func (m *TransactionManager) warnSharedID() {
	m.logger.Warn("Transactional offsets are committed without consumer group generation; " +
		"use EOS mode ALPHA for per-partition transactional ids to fence zombie instances")
}

// forget drops a session after fencing so the next Begin starts a new one.
func (m *TransactionManager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

type transaction struct {
	m        *TransactionManager
	id       string
	session  kafka.ProducerSession
	enlisted bool
}

func (t *transaction) SendOffsets(ctx context.Context, offsets []core.Offset, group string) error {
	if len(offsets) == 0 {
		return nil
	}
	add, err := t.m.client.AddOffsetsToTxn(ctx, &kafka.AddOffsetsToTxnRequest{
		TransactionalID: t.id,
		ProducerID:      t.session.ProducerID,
		ProducerEpoch:   t.session.ProducerEpoch,
		GroupID:         group,
	})
	if err == nil && add.Error != nil {
		err = add.Error
	}
	if err != nil {
		return t.fail("add offsets to transaction", err)
	}
	t.enlisted = true

	commit, err := t.m.client.TxnOffsetCommit(ctx, &kafka.TxnOffsetCommitRequest{
		TransactionalID: t.id,
		GroupID:         group,
		ProducerID:      t.session.ProducerID,
		ProducerEpoch:   t.session.ProducerEpoch,
		GenerationID:    -1, // see warnSharedID
		Topics:          txnOffsets(offsets),
	})
	if err != nil {
		return t.fail("transactional offset commit", err)
	}
	for topic, parts := range commit.Topics {
		for _, p := range parts {
			if p.Error != nil {
				return t.fail("transactional offset commit", fmt.Errorf("%s-%d: %w", topic, p.Partition, p.Error))
			}
		}
	}
	return nil
}

func (t *transaction) Commit(ctx context.Context) error   { return t.end(ctx, true) }
func (t *transaction) Rollback(ctx context.Context) error { return t.end(ctx, false) }

// end completes the transaction. A transaction that enlisted nothing was
// never started on the coordinator.
func (t *transaction) end(ctx context.Context, committed bool) error {
	if !t.enlisted {
		return nil
	}
	t.enlisted = false
	resp, err := t.m.client.EndTxn(ctx, &kafka.EndTxnRequest{
		TransactionalID: t.id,
		ProducerID:      t.session.ProducerID,
		ProducerEpoch:   t.session.ProducerEpoch,
		Committed:       committed,
	})
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		return t.fail("end transaction", err)
	}
	return nil
}

func (t *transaction) fail(op string, err error) error {
	err = mapFenced(err)
	if core.IsFenced(err) {
		t.m.forget(t.id)
	}
	return fmt.Errorf("ackmux/kafka: %s %q: %w", op, t.id, err)
}

// transactionalID derives the transactional id: per partition under EOS mode
// ALPHA, per instance otherwise.
func transactionalID(prefix, suffix string, scope core.TxScope) string {
	if scope.PerPartition && scope.Partition >= 0 {
		return prefix + scope.Group + "." + scope.Topic + "." + strconv.Itoa(scope.Partition)
	}
	return prefix + suffix
}

func txnOffsets(offsets []core.Offset) map[string][]kafka.TxnOffsetCommit {
	out := make(map[string][]kafka.TxnOffsetCommit)
	for _, o := range offsets {
		out[o.Topic] = append(out[o.Topic], kafka.TxnOffsetCommit{
			Partition: o.Partition,
			Offset:    o.Offset + 1, // next position
		})
	}
	return out
}

// mapFenced wraps the broker fencing codes with core.ErrFenced.
func mapFenced(err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) && (kerr == kafka.InvalidProducerEpoch || kerr == producerFenced) {
		return fmt.Errorf("%w: %w", core.ErrFenced, err)
	}
	return err
}
