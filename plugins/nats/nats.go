package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Broker, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("ackmux/nats: at least one broker URL is required")
		}
		return New(strings.Join(cfg.Brokers, ","), cfg.Group, optsFromConfig(cfg)...)
	})
}

// Broker implements core.Broker for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Broker instance.
//   - Each Subscribe call creates (or updates) a stream and a durable pull
//     consumer with AckAll policy, named after the group.
//   - A commit acks the highest committed stream sequence, which acks every
//     earlier message of the consumer.
//   - JetStream has no transactional acks, so the broker is not TransactionCapable.
type Broker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	group  string
	opts   options
	logger *zap.Logger

	mu        sync.Mutex
	closed    bool
	consumers []*consumer
}

// New creates a NATS JetStream Broker. url is a standard NATS URL (nats://host:port).
func New(url, group string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if group == "" {
		return nil, fmt.Errorf("ackmux/nats: a consumer group is required")
	}
	logger := opts.logger.With(zap.String("broker", "nats"), zap.String("group", group))

	nc, err := nats.Connect(url,
		nats.Name("ackmux-"+group+"-"+uuid.NewString()),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS async error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ackmux/nats: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ackmux/nats: init jetstream: %w", err)
	}

	return &Broker{
		conn:   nc,
		js:     js,
		group:  group,
		opts:   opts,
		logger: logger,
	}, nil
}

// Subscribe creates or updates the stream covering the requested subjects and
// a durable pull consumer for the group.
func (b *Broker) Subscribe(ctx context.Context, req core.SubscribeRequest) (core.Consumer, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.ErrBrokerClosed
	}
	b.mu.Unlock()

	subjects, err := subjectsFor(req)
	if err != nil {
		return nil, err
	}
	group := b.group
	if req.Group != "" {
		group = req.Group
	}
	streamName := b.opts.stream
	if streamName == "" {
		streamName = sanitizeStreamName(group)
	}

	var stream jetstream.Stream
	if req.MissingTopicsFatal {
		stream, err = b.js.Stream(ctx, streamName)
	} else {
		stream, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      streamName,
			Subjects:  subjects,
			MaxMsgs:   b.opts.maxMsgs,
			MaxBytes:  b.opts.maxBytes,
			MaxAge:    b.opts.maxAge,
			Replicas:  b.opts.replicas,
			Retention: b.opts.retention,
			Storage:   b.opts.storage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("ackmux/nats: stream %q: %w", streamName, err)
	}

	deliver := jetstream.DeliverNewPolicy
	if req.AutoOffsetReset == core.OffsetResetEarliest {
		deliver = jetstream.DeliverAllPolicy
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        group,
		AckPolicy:      jetstream.AckAllPolicy,
		AckWait:        b.opts.ackWait,
		MaxDeliver:     b.opts.maxDeliver,
		MaxAckPending:  b.opts.maxAckPending,
		DeliverPolicy:  deliver,
		FilterSubjects: subjects,
	})
	if err != nil {
		return nil, fmt.Errorf("ackmux/nats: create consumer %q: %w", group, err)
	}

	c := &consumer{
		cons:        cons,
		pollTimeout: req.PollTimeout,
		maxRecords:  req.MaxPollRecords,
		logger:      b.logger,
		pending:     make(map[uint64]jetstream.Msg),
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
	b.logger.Info("Subscribed", zap.String("stream", streamName), zap.Strings("subjects", subjects))
	return c, nil
}

// Close drains the NATS connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("ackmux/nats: drain: %w", err)
	}
	return nil
}

// subjectsFor translates topics, or a topic pattern, to NATS subjects. The
// multi-level wildcard "#" becomes ">" and must be the last token.
func subjectsFor(req core.SubscribeRequest) ([]string, error) {
	if req.TopicPattern == "" {
		return req.Topics, nil
	}
	tokens := strings.Split(req.TopicPattern, ".")
	for i, tok := range tokens {
		if tok == "#" {
			if i != len(tokens)-1 {
				return nil, fmt.Errorf("ackmux/nats: %q: '#' must be the last token", req.TopicPattern)
			}
			tokens[i] = ">"
		}
	}
	return []string{strings.Join(tokens, ".")}, nil
}

// sanitizeStreamName converts a name to a valid stream name
// by replacing special characters.
func sanitizeStreamName(name string) string {
	buf := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{WithLogger(cfg.Logger)}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["stream"].(string); ok {
		opts = append(opts, WithStream(v))
	}
	if v, ok := cfg.Extra["max_deliver"].(int); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Extra["replicas"].(int); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.Extra["max_ack_pending"].(int); ok {
		opts = append(opts, WithMaxAckPending(v))
	}
	return opts
}

var errNotTracked = errors.New("ackmux/nats: committed sequence was not delivered by this consumer")
