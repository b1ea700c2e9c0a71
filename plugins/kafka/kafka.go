package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Broker, error) {
		return New(cfg.Brokers, cfg.Group, optsFromConfig(cfg)...)
	})
}

// Broker implements core.Broker for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - One kafka.Reader per Subscribe call, joined to the consumer group and
//     committing synchronously (CommitInterval 0) when the container asks.
//   - One kafka.Client for metadata and the transactional APIs; transactions
//     enlist consumed offsets only (AddOffsetsToTxn + TxnOffsetCommit).
//   - Graceful shutdown: Close() closes every reader.
type Broker struct {
	brokers []string
	group   string
	opts    options
	client  *kafka.Client
	logger  *zap.Logger

	mu        sync.Mutex
	consumers []*consumer
	txm       *TransactionManager
	closed    bool
}

// New creates a Kafka Broker.
func New(brokers []string, group string, fns ...Option) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("ackmux/kafka: at least one broker address is required")
	}
	if group == "" {
		return nil, fmt.Errorf("ackmux/kafka: a consumer group is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if opts.clientID == "" {
		opts.clientID = "ackmux-" + uuid.NewString()
	}

	transport := &kafka.Transport{ClientID: opts.clientID}
	if opts.dialer != nil {
		transport.TLS = opts.dialer.TLS
		transport.SASL = opts.dialer.SASLMechanism
	}

	return &Broker{
		brokers: brokers,
		group:   group,
		opts:    opts,
		logger:  opts.logger.With(zap.String("broker", "kafka"), zap.String("group", group)),
		client: &kafka.Client{
			Addr:      kafka.TCP(brokers...),
			Timeout:   opts.clientTimeout,
			Transport: transport,
		},
	}, nil
}

// Subscribe joins the consumer group for the requested topics. A topic
// pattern is resolved against the cluster metadata once, at subscription.
func (b *Broker) Subscribe(ctx context.Context, req core.SubscribeRequest) (core.Consumer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, core.ErrBrokerClosed
	}

	topics, err := b.resolveTopics(ctx, req)
	if err != nil {
		return nil, err
	}

	group := b.group
	if req.Group != "" {
		group = req.Group
	}
	startOffset := kafka.LastOffset
	if req.AutoOffsetReset == core.OffsetResetEarliest {
		startOffset = kafka.FirstOffset
	}
	sugar := b.logger.Sugar()
	cfg := kafka.ReaderConfig{
		Brokers:           b.brokers,
		GroupID:           group,
		GroupTopics:       topics,
		MinBytes:          b.opts.minBytes,
		MaxBytes:          b.opts.maxBytes,
		MaxWait:           b.opts.maxWait,
		StartOffset:       startOffset,
		CommitInterval:    0, // synchronous commits driven by the container
		HeartbeatInterval: b.opts.heartbeat,
		SessionTimeout:    b.opts.sessionTime,
		RebalanceTimeout:  b.opts.rebalance,
		Logger:            kafka.LoggerFunc(sugar.Debugf),
		ErrorLogger:       kafka.LoggerFunc(sugar.Errorf),
	}
	if b.opts.dialer != nil {
		cfg.Dialer = b.opts.dialer
	}

	c := &consumer{
		reader:      kafka.NewReader(cfg),
		pollTimeout: req.PollTimeout,
		maxRecords:  req.MaxPollRecords,
		linger:      b.opts.linger,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = c.reader.Close()
		return nil, core.ErrBrokerClosed
	}
	b.consumers = append(b.consumers, c)
	b.logger.Info("Subscribed", zap.Strings("topics", topics))
	return c, nil
}

// resolveTopics returns the topics to join, checking that they exist when
// missing topics are fatal.
func (b *Broker) resolveTopics(ctx context.Context, req core.SubscribeRequest) ([]string, error) {
	if req.TopicPattern == "" && !req.MissingTopicsFatal {
		return req.Topics, nil
	}

	meta, err := b.client.Metadata(ctx, &kafka.MetadataRequest{Topics: req.Topics})
	if err != nil {
		return nil, fmt.Errorf("ackmux/kafka: metadata: %w", err)
	}
	existing := make([]string, 0, len(meta.Topics))
	var missing []string
	for _, t := range meta.Topics {
		if t.Error != nil {
			if errors.Is(t.Error, kafka.UnknownTopicOrPartition) {
				missing = append(missing, t.Name)
				continue
			}
			return nil, fmt.Errorf("ackmux/kafka: metadata for %q: %w", t.Name, t.Error)
		}
		if !t.Internal {
			existing = append(existing, t.Name)
		}
	}

	if req.TopicPattern != "" {
		return matchTopics(req.TopicPattern, existing)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("ackmux/kafka: topics not present on the broker: %v", missing)
	}
	return req.Topics, nil
}

// TransactionManager implements core.TransactionCapable. It requires a
// transactional id prefix.
func (b *Broker) TransactionManager() (core.TransactionManager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opts.txPrefix == "" {
		return nil, fmt.Errorf("ackmux/kafka: transactions require a transactional id prefix")
	}
	if b.txm == nil {
		b.txm = newTransactionManager(b.client, b.opts.txPrefix, b.opts.txTimeout, b.logger)
	}
	return b.txm, nil
}

// Close closes every reader.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, c := range b.consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func matchTopics(pattern string, topics []string) ([]string, error) {
	var out []string
	m := core.DefaultMatcher{}
	for _, t := range topics {
		if m.Match(pattern, t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ackmux/kafka: no topic matches pattern %q", pattern)
	}
	sort.Strings(out)
	return out, nil
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{WithLogger(cfg.Logger)}
	if cfg.ClientID != "" {
		opts = append(opts, WithClientID(cfg.ClientID))
	}
	if cfg.TransactionalIDPrefix != "" {
		opts = append(opts, WithTransactionalIDPrefix(cfg.TransactionalIDPrefix))
	}
	if cfg.TransactionTimeout > 0 {
		opts = append(opts, WithTransactionTimeout(cfg.TransactionTimeout))
	}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["min_bytes"].(int); ok {
		opts = append(opts, WithMinBytes(v))
	}
	if v, ok := cfg.Extra["max_bytes"].(int); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := durationValue(cfg.Extra["max_wait"]); ok {
		opts = append(opts, WithMaxWait(v))
	}
	if v, ok := durationValue(cfg.Extra["linger"]); ok {
		opts = append(opts, WithLinger(v))
	}
	return opts
}

// durationValue accepts a time.Duration or a duration string as decoded from YAML.
func durationValue(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil
	}
	return 0, false
}
