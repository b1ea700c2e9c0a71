package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miladsoleymani/ackmux/core"
)

// Broker is a test double for core.Broker. Subscribe hands out Consumer.
type Broker struct {
	mu           sync.Mutex
	Consumer     *Consumer
	Tx           core.TransactionManager
	SubscribeErr error
	requests     []core.SubscribeRequest
	closed       bool
}

func NewBroker() *Broker {
	return &Broker{Consumer: NewConsumer()}
}

func (b *Broker) Subscribe(_ context.Context, req core.SubscribeRequest) (core.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	b.requests = append(b.requests, req)
	return b.Consumer, nil
}

// TransactionManager implements core.TransactionCapable.
func (b *Broker) TransactionManager() (core.TransactionManager, error) {
	if b.Tx == nil {
		return nil, errors.New("mock: broker has no transaction manager")
	}
	return b.Tx, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Requests returns every subscription request received.
func (b *Broker) Requests() []core.SubscribeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.SubscribeRequest(nil), b.requests...)
}

// IsClosed reports whether Close was called.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type step struct {
	msgs     []core.Message
	err      error
	assigned []core.Offset
}

// Consumer is a scripted core.Consumer. Each Poll returns the next scripted
// step; once the script is exhausted Drained is closed and Poll returns empty
// results every PollWait.
type Consumer struct {
	mu        sync.Mutex
	script    []step
	commits   [][]core.Offset
	listener  core.AssignmentListener
	drained   chan struct{}
	drainOnce sync.Once
	closed    bool

	// PollWait is how long an empty Poll blocks.
	PollWait time.Duration
	// CommitErr fails every Commit while set.
	CommitErr error
}

func NewConsumer() *Consumer {
	return &Consumer{drained: make(chan struct{}), PollWait: 5 * time.Millisecond}
}

// Push scripts one poll returning msgs.
func (c *Consumer) Push(msgs ...core.Message) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step{msgs: msgs})
	return c
}

// Fail scripts one poll returning err.
func (c *Consumer) Fail(err error) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step{err: err})
	return c
}

// Assign scripts one poll that reports assigned partitions at positions.
func (c *Consumer) Assign(positions ...core.Offset) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step{assigned: positions})
	return c
}

func (c *Consumer) OnAssigned(fn core.AssignmentListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

func (c *Consumer) Poll(ctx context.Context) ([]core.Message, error) {
	c.mu.Lock()
	if len(c.script) == 0 {
		wait := c.PollWait
		c.mu.Unlock()
		c.drainOnce.Do(func() { close(c.drained) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
			return nil, nil
		}
	}
	s := c.script[0]
	c.script = c.script[1:]
	listener := c.listener
	c.mu.Unlock()

	if s.assigned != nil && listener != nil {
		listener(ctx, s.assigned)
	}
	return s.msgs, s.err
}

func (c *Consumer) Commit(_ context.Context, offsets []core.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CommitErr != nil {
		return c.CommitErr
	}
	c.commits = append(c.commits, append([]core.Offset(nil), offsets...))
	return nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Drained is closed by the first Poll after the script was exhausted, which
// means every scripted record was handled.
func (c *Consumer) Drained() <-chan struct{} { return c.drained }

// Commits returns every successful Commit call.
func (c *Consumer) Commits() [][]core.Offset {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]core.Offset, len(c.commits))
	copy(out, c.commits)
	return out
}

// IsClosed reports whether Close was called.
func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
