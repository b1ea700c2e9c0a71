package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/core"
)

// ErrChannelClosed is returned by Poll once the consumer channel is gone.
var ErrChannelClosed = errors.New("ackmux/rabbitmq: delivery channel closed")

// channel is the part of *amqp.Channel the consumer needs.
type channel interface {
	Ack(tag uint64, multiple bool) error
	TxCommit() error
	TxRollback() error
	Close() error
}

type inbound struct {
	topic    string
	delivery amqp.Delivery
}

// consumer fans the deliveries of its queues into one buffer and tracks the
// unacked delivery tags per topic.
type consumer struct {
	ch            channel
	transactional bool
	pollTimeout   time.Duration
	maxRecords    int
	logger        *zap.Logger

	inbound chan inbound
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	unacked map[uint64]string
	closed  bool
}

func newConsumer(ch channel, transactional bool, pollTimeout time.Duration, maxRecords int, logger *zap.Logger) *consumer {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	return &consumer{
		ch:            ch,
		transactional: transactional,
		pollTimeout:   pollTimeout,
		maxRecords:    maxRecords,
		logger:        logger,
		inbound:       make(chan inbound, maxRecords),
		done:          make(chan struct{}),
		unacked:       make(map[uint64]string),
	}
}

func (c *consumer) forward(bd binding, deliveries <-chan amqp.Delivery) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range deliveries {
			topic := bd.queue
			if bd.byKey {
				topic = d.RoutingKey
			}
			select {
			case c.inbound <- inbound{topic: topic, delivery: d}:
			case <-c.done:
				return
			}
		}
	}()
}

// seal closes the buffer once every forwarder has stopped.
func (c *consumer) seal() {
	go func() {
		c.wg.Wait()
		close(c.inbound)
	}()
}

func (c *consumer) Poll(ctx context.Context) ([]core.Message, error) {
	timer := time.NewTimer(c.pollTimeout)
	defer timer.Stop()

	var first inbound
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case in, ok := <-c.inbound:
		if !ok {
			return nil, ErrChannelClosed
		}
		first = in
	}

	msgs := []core.Message{c.track(first)}
	for len(msgs) < c.maxRecords {
		select {
		case in, ok := <-c.inbound:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, c.track(in))
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

func (c *consumer) track(in inbound) core.Message {
	c.mu.Lock()
	c.unacked[in.delivery.DeliveryTag] = in.topic
	c.mu.Unlock()
	return &message{queue: in.topic, delivery: in.delivery}
}

// Commit acks the deliveries covered by offsets. On a transactional channel
// the acks are committed immediately in their own transaction.
func (c *consumer) Commit(_ context.Context, offsets []core.Offset) error {
	tags, err := c.ack(offsets)
	if err != nil {
		return err
	}
	if c.transactional {
		if err := c.ch.TxCommit(); err != nil {
			return fmt.Errorf("ackmux/rabbitmq: tx commit: %w", err)
		}
	}
	c.forget(tags)
	return nil
}

// ack acks every unacked tag of each offset's topic up to the offset. When the
// covered tags are exactly the unacked tags up to the highest one, a single
// multiple ack is sent. The acked tags stay tracked until forget is called.
func (c *consumer) ack(offsets []core.Offset) ([]uint64, error) {
	upTo := make(map[string]uint64, len(offsets))
	for _, o := range offsets {
		if t := uint64(o.Offset); t > upTo[o.Topic] {
			upTo[o.Topic] = t
		}
	}

	c.mu.Lock()
	var tags []uint64
	for tag, topic := range c.unacked {
		if limit, ok := upTo[topic]; ok && tag <= limit {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		c.mu.Unlock()
		return nil, nil
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	top := tags[len(tags)-1]
	multiple := true
	for tag := range c.unacked {
		if tag <= top {
			if limit, ok := upTo[c.unacked[tag]]; !ok || tag > limit {
				multiple = false
				break
			}
		}
	}
	c.mu.Unlock()

	if multiple {
		if err := c.ch.Ack(top, true); err != nil {
			return nil, fmt.Errorf("ackmux/rabbitmq: ack up to %d: %w", top, err)
		}
	} else {
		for _, tag := range tags {
			if err := c.ch.Ack(tag, false); err != nil {
				return nil, fmt.Errorf("ackmux/rabbitmq: ack %d: %w", tag, err)
			}
		}
	}
	return tags, nil
}

func (c *consumer) forget(tags []uint64) {
	c.mu.Lock()
	for _, tag := range tags {
		delete(c.unacked, tag)
	}
	c.mu.Unlock()
}

// pending returns the number of tracked unacked deliveries.
func (c *consumer) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unacked)
}

// Close closes the channel. Unacked deliveries are requeued by the server.
func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("ackmux/rabbitmq: close channel: %w", err)
	}
	return nil
}
