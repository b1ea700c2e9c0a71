package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DeliveryAttemptHeader is added to Headers when delivery attempt headers are enabled.
const DeliveryAttemptHeader = "ackmux_deliveryAttempt"

// Context is the handler context, inspired by echo.Context.
// It wraps the delivery unit (a single record or a whole batch), provides
// deserialization via Bind and exposes the acknowledgment.
type Context interface {
	// Context returns the underlying context.Context.
	Context() context.Context

	// SetContext replaces the underlying context.Context.
	// Useful for middleware that enriches the context with values or deadlines.
	SetContext(ctx context.Context)

	// Message returns the first record of the delivery unit.
	Message() Message

	// Messages returns every record of the delivery unit. Record handlers see one.
	Messages() []Message

	// Topic returns the topic of the first record.
	Topic() string

	// Partition returns the partition of the first record.
	Partition() int

	// Offset returns the offset of the first record.
	Offset() int64

	// Key returns the key of the first record.
	Key() []byte

	// Value returns the raw body of the first record.
	Value() []byte

	// Header returns a single header value by key.
	Header(key string) string

	// Headers returns all headers of the first record.
	Headers() map[string]string

	// DeliveryAttempt returns how many times the first record was delivered
	// to this container, starting at 1.
	DeliveryAttempt() int

	// Bind deserializes the body of the first record into v
	// using the container's Binder.
	Bind(v any) error

	// Ack acknowledges the delivery unit. It is only valid in the MANUAL and
	// MANUAL_IMMEDIATE ack modes and is a no-op under a transaction manager.
	// Ack must be called from the handler goroutine.
	Ack() error

	// Set stores a key-value pair in the context store.
	// Used by middleware to pass data to downstream handlers.
	Set(key string, val any)

	// Get retrieves a value from the context store.
	Get(key string) (any, bool)
}

// HandlerFunc is the function signature for container handlers.
//
//	c.Handle("orders.created", func(c ackmux.Context) error {
//	    var order Order
//	    if err := c.Bind(&order); err != nil {
//	        return err
//	    }
//	    return nil
//	})
type HandlerFunc func(c Context) error

// MiddlewareFunc wraps a HandlerFunc to add cross-cutting behavior.
// Interceptors are composed once when the container starts.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

type deliveryContext struct {
	ctx     context.Context
	msgs    []Message
	binder  Binder
	attempt int
	header  bool
	ack     func() error
	store   map[string]any
	mu      sync.RWMutex
}

type contextOptions struct {
	binder  Binder
	attempt int
	header  bool
	ack     func() error
}

func newContext(ctx context.Context, msgs []Message, opts contextOptions) *deliveryContext {
	if opts.attempt < 1 {
		opts.attempt = 1
	}
	return &deliveryContext{
		ctx:     ctx,
		msgs:    msgs,
		binder:  opts.binder,
		attempt: opts.attempt,
		header:  opts.header,
		ack:     opts.ack,
		store:   make(map[string]any),
	}
}

func (c *deliveryContext) Context() context.Context { return c.ctx }

func (c *deliveryContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *deliveryContext) Message() Message { return c.msgs[0] }

func (c *deliveryContext) Messages() []Message { return c.msgs }

func (c *deliveryContext) Topic() string { return c.msgs[0].Topic() }

func (c *deliveryContext) Partition() int { return c.msgs[0].Partition() }

func (c *deliveryContext) Offset() int64 { return c.msgs[0].Offset() }

func (c *deliveryContext) Key() []byte { return c.msgs[0].Key() }

func (c *deliveryContext) Value() []byte { return c.msgs[0].Value() }

func (c *deliveryContext) DeliveryAttempt() int { return c.attempt }

func (c *deliveryContext) Header(key string) string {
	return c.Headers()[key]
}

func (c *deliveryContext) Headers() map[string]string {
	h := c.msgs[0].Headers()
	if !c.header {
		return h
	}
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[DeliveryAttemptHeader] = strconv.Itoa(c.attempt)
	return out
}

func (c *deliveryContext) Bind(v any) error {
	if c.binder == nil {
		return fmt.Errorf("ackmux: no binder configured")
	}
	if err := c.binder.Bind(c.msgs[0].Value(), v); err != nil {
		return fmt.Errorf("ackmux: bind: %w", err)
	}
	return nil
}

func (c *deliveryContext) Ack() error {
	if c.ack == nil {
		return ErrNotManualAck
	}
	if err := c.ack(); err != nil {
		return fmt.Errorf("ackmux: ack: %w", err)
	}
	return nil
}

func (c *deliveryContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *deliveryContext) Get(key string) (any, bool) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	return val, ok
}
