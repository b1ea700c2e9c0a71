package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Option configures the Kafka broker.
type Option func(*options)

type options struct {
	// Reader
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	linger      time.Duration
	rebalance   time.Duration
	heartbeat   time.Duration
	sessionTime time.Duration

	// Transactions
	clientID      string
	txPrefix      string
	txTimeout     time.Duration
	clientTimeout time.Duration

	// General
	dialer *kafka.Dialer
	logger *zap.Logger
}

func defaults() options {
	return options{
		minBytes:      1,
		maxBytes:      10e6, // 10 MB
		maxWait:       500 * time.Millisecond,
		linger:        10 * time.Millisecond,
		rebalance:     5 * time.Second,
		heartbeat:     3 * time.Second,
		sessionTime:   30 * time.Second,
		txTimeout:     time.Minute,
		clientTimeout: 10 * time.Second,
		logger:        zap.NewNop(),
	}
}

// WithMinBytes sets the minimum bytes per fetch.
func WithMinBytes(n int) Option {
	return func(o *options) { o.minBytes = n }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithLinger sets how long a poll keeps collecting records after the first
// one arrived, up to the max poll records.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.linger = d }
}

// WithRebalanceTimeout sets how long members have to join a rebalance.
func WithRebalanceTimeout(d time.Duration) Option {
	return func(o *options) { o.rebalance = d }
}

// WithSessionTimeout sets the group session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) { o.sessionTime = d }
}

// WithClientID sets the client id reported to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithTransactionalIDPrefix enables transactions. Under EOS mode BETA the
// transactional id is the prefix plus a per-instance suffix; under ALPHA it is
// the prefix plus group, topic and partition.
func WithTransactionalIDPrefix(prefix string) Option {
	return func(o *options) { o.txPrefix = prefix }
}

// WithTransactionTimeout sets the broker-side transaction timeout.
func WithTransactionTimeout(d time.Duration) Option {
	return func(o *options) { o.txTimeout = d }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger routes kafka-go reader logs and plugin logs to logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHeartbeatInterval sets the group heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}
