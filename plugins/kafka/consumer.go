package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/ackmux/core"
)

// consumer drives one kafka.Reader for the container poll loop.
type consumer struct {
	reader      *kafka.Reader
	pollTimeout time.Duration
	maxRecords  int
	linger      time.Duration
}

// Poll waits up to the poll timeout for a first record, then keeps fetching
// records already buffered by the reader until linger expires or maxRecords
// is reached.
func (c *consumer) Poll(ctx context.Context) ([]core.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	first, err := c.reader.FetchMessage(pollCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("ackmux/kafka: fetch: %w", err)
	}

	msgs := []core.Message{&message{raw: first}}
	for len(msgs) < c.maxRecords {
		lingerCtx, cancel := context.WithTimeout(ctx, c.linger)
		raw, err := c.reader.FetchMessage(lingerCtx)
		cancel()
		if err != nil {
			break
		}
		msgs = append(msgs, &message{raw: raw})
	}
	return msgs, nil
}

// Commit synchronously commits offsets. kafka-go commits the offset after
// each given message, which is what the broker expects as next position.
func (c *consumer) Commit(ctx context.Context, offsets []core.Offset) error {
	if len(offsets) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, commitMessages(offsets)...); err != nil {
		return fmt.Errorf("ackmux/kafka: commit offsets: %w", err)
	}
	return nil
}

func (c *consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ackmux/kafka: close reader: %w", err)
	}
	return nil
}

func commitMessages(offsets []core.Offset) []kafka.Message {
	msgs := make([]kafka.Message, len(offsets))
	for i, o := range offsets {
		msgs[i] = kafka.Message{Topic: o.Topic, Partition: o.Partition, Offset: o.Offset}
	}
	return msgs
}
