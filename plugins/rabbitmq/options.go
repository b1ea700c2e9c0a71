package rabbitmq

import "go.uber.org/zap"

// Option configures the RabbitMQ broker.
type Option func(*options)

type options struct {
	// Exchange settings
	exchange     string
	exchangeType string
	routingKey   string

	// Queue settings
	durable    bool
	autoDelete bool
	exclusive  bool

	// Consumer settings
	prefetchCount int
	transactional bool
	consumerTag   string

	logger *zap.Logger
}

func defaults() options {
	return options{
		exchange:      "",       // default exchange
		exchangeType:  "direct", // direct, fanout, topic, headers
		durable:       true,
		prefetchCount: 10,
		logger:        zap.NewNop(),
	}
}

// WithExchange sets the exchange name and type. Queues are bound to it.
func WithExchange(name, kind string) Option {
	return func(o *options) {
		o.exchange = name
		o.exchangeType = kind
	}
}

// WithRoutingKey sets the routing key for queue binding.
func WithRoutingKey(key string) Option {
	return func(o *options) { o.routingKey = key }
}

// WithDurable controls whether queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithPrefetchCount sets how many messages are delivered before requiring ack.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithAutoDelete causes the queue to be deleted when the last consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}

// WithExclusive makes declared queues exclusive to the connection.
func WithExclusive(e bool) Option {
	return func(o *options) { o.exclusive = e }
}

// WithTransactions puts consumer channels in transactional mode so that acks
// are only applied when a broker transaction commits.
func WithTransactions(enabled bool) Option {
	return func(o *options) { o.transactional = enabled }
}

// WithConsumerTag sets the consumer tag prefix. Each queue is consumed with
// "<prefix>-<queue>".
func WithConsumerTag(tag string) Option {
	return func(o *options) { o.consumerTag = tag }
}

// WithLogger sets the plugin logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
