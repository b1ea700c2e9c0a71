package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IdleFunc is invoked from the poll loop when no records arrived for the idle
// event interval.
type IdleFunc func(ctx context.Context, idleFor time.Duration)

// Container is the listener container. It polls one Consumer, dispatches
// records through the interceptor chain and commits progress according to the
// ack policy or, when a transaction manager is attached, inside transactions.
type Container struct {
	broker      Broker
	props       *Properties
	binder      Binder
	middlewares []MiddlewareFunc
	routes      map[string]HandlerFunc
	batch       HandlerFunc
	matcher     TopicMatcher
	logger      *zap.Logger
	observer    Observer
	idle        IdleFunc
	failures    chan error
	mu          sync.RWMutex
	started     bool
	cancel      context.CancelFunc
	clock       func() time.Time
}

// New creates a Container bound to the given Broker.
// It uses DefaultMatcher for topic matching and JSONBinder for deserialization.
func New(b Broker, props *Properties) *Container {
	return &Container{
		broker:   b,
		props:    props,
		binder:   JSONBinder{},
		routes:   make(map[string]HandlerFunc),
		matcher:  DefaultMatcher{},
		logger:   zap.NewNop(),
		observer: nopObserver{},
		failures: make(chan error, 16),
		clock:    time.Now,
	}
}

// Properties returns the container properties.
func (c *Container) Properties() *Properties { return c.props }

// SetMatcher replaces the topic matcher. Must be called before Start.
func (c *Container) SetMatcher(m TopicMatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher = m
}

// SetBinder replaces the binder used by Context.Bind().
func (c *Container) SetBinder(b Binder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binder = b
}

// SetLogger replaces the logger. A nil logger disables logging.
func (c *Container) SetLogger(l *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	c.logger = l
}

// SetObserver registers the observer for commit, rollback and fencing events.
func (c *Container) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// OnIdle registers the idle callback. It only fires when an idle event
// interval is configured.
func (c *Container) OnIdle(fn IdleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = fn
}

// Use appends middleware after the interceptors configured in Properties.
// Given interceptors [A, B] and Use(C), the call order is A -> B -> C -> handler.
func (c *Container) Use(m MiddlewareFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
}

// Handle registers a record handler for a topic pattern.
func (c *Container) Handle(topic string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[topic] = h
}

// HandleBatch registers a batch handler receiving every record of a poll, or
// of one partition when sub-batching is enabled. It replaces record handlers.
func (c *Container) HandleBatch(h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batch = h
}

// Failures reports faults that do not stop the container but must not be
// lost: secondary transaction commit failures and delegated fencing faults
// the error handler could not recover. The channel is buffered; faults are
// dropped, and logged, when nobody reads it.
func (c *Container) Failures() <-chan error { return c.failures }

// Start subscribes and runs the poll loop until the context is cancelled or a
// fatal fault occurs. On cancellation the in-flight unit and the pending
// commit complete, bounded by the shutdown timeout.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.broker == nil {
		c.mu.Unlock()
		return ErrNoBroker
	}
	if c.props == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: properties are nil", ErrInvalidProperties)
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(c.routes) == 0 && c.batch == nil {
		c.mu.Unlock()
		return ErrNoHandler
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	// Snapshot handlers, middleware, and config under lock
	mws := append(c.props.Interceptors(), c.middlewares...)
	routes := make(map[string]HandlerFunc, len(c.routes))
	for k, v := range c.routes {
		routes[k] = applyMiddleware(v, mws)
	}
	var batch HandlerFunc
	if c.batch != nil {
		batch = applyMiddleware(c.batch, mws)
	}
	l := &loop{
		props:    c.props,
		routes:   newRouteTable(routes, c.matcher),
		batch:    batch,
		binder:   c.binder,
		logger:   c.logger,
		observer: c.observer,
		idle:     c.idle,
		failures: c.failures,
		clock:    c.clock,
	}
	broker := c.broker
	c.mu.Unlock()

	if c.props.LogContainerConfig() {
		l.logger.Info("Starting listener container", zap.Stringer("properties", c.props))
	}

	subCtx, cancel := context.WithTimeout(ctx, c.props.ConsumerStartTimeout())
	consumer, err := broker.Subscribe(subCtx, SubscribeRequest{
		Topics:             c.props.Topics(),
		TopicPattern:       c.props.TopicPattern(),
		Group:              c.props.GroupID(),
		ClientID:           c.props.ClientID(),
		MaxPollRecords:     c.props.MaxPollRecords(),
		PollTimeout:        c.props.PollTimeout(),
		AutoOffsetReset:    c.props.AutoOffsetReset(),
		MissingTopicsFatal: c.props.MissingTopicsFatal(),
	})
	cancel()
	if err != nil {
		_ = broker.Close()
		return fmt.Errorf("ackmux: subscribe: %w", err)
	}
	l.consumer = consumer

	runErr := l.run(ctx)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ackmux: close consumer: %w", err))
	}
	if err := broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ackmux: close broker: %w", err))
	}
	return errors.Join(errs...)
}

// Stop requests a graceful stop of a started container. Start returns once the
// in-flight unit and the final commit completed.
func (c *Container) Stop() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// applyMiddleware wraps a handler with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> handler.
func applyMiddleware(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
