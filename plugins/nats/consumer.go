package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
)

// consumer fetches from a durable AckAll pull consumer. Delivered messages
// are tracked until a commit covers them.
type consumer struct {
	cons        jetstream.Consumer
	pollTimeout time.Duration
	maxRecords  int
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[uint64]jetstream.Msg
}

func (c *consumer) Poll(ctx context.Context) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := c.cons.Fetch(c.maxRecords, jetstream.FetchMaxWait(c.pollTimeout))
	if err != nil {
		return nil, fmt.Errorf("ackmux/nats: fetch: %w", err)
	}

	var msgs []core.Message
	for raw := range batch.Messages() {
		m, err := newMessage(raw)
		if err != nil {
			c.logger.Warn("Skipping message without metadata", zap.Error(err))
			continue
		}
		c.track(m)
		msgs = append(msgs, m)
	}
	if err := batch.Error(); err != nil && !isTimeout(err) {
		return msgs, fmt.Errorf("ackmux/nats: fetch: %w", err)
	}
	return msgs, nil
}

// Commit acks the message with the highest committed sequence. With the
// AckAll policy this acks every earlier message of the consumer.
func (c *consumer) Commit(ctx context.Context, offsets []core.Offset) error {
	if len(offsets) == 0 {
		return nil
	}
	var top uint64
	for _, o := range offsets {
		if uint64(o.Offset) > top {
			top = uint64(o.Offset)
		}
	}

	c.mu.Lock()
	msg, ok := c.pending[top]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", errNotTracked, top)
	}
	if err := msg.DoubleAck(ctx); err != nil {
		return fmt.Errorf("ackmux/nats: ack sequence %d: %w", top, err)
	}
	c.release(top)
	return nil
}

func (c *consumer) Close() error { return nil }

func (c *consumer) track(m *message) {
	c.mu.Lock()
	c.pending[m.seq] = m.msg
	c.mu.Unlock()
}

func (c *consumer) release(upTo uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq := range c.pending {
		if seq <= upTo {
			delete(c.pending, seq)
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
