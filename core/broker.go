package core

import (
	"context"
	"time"
)

// SubscribeRequest carries the subscription settings derived from Properties.
type SubscribeRequest struct {
	Topics             []string
	TopicPattern       string
	Group              string
	ClientID           string
	MaxPollRecords     int
	PollTimeout        time.Duration
	AutoOffsetReset    string
	MissingTopicsFatal bool
}

// Broker defines the contract for message broker implementations.
// Each broker plugin must implement this interface.
type Broker interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Consumer, error)
	Close() error
}

// Consumer is the broker client collaborator driven by a single poll loop.
type Consumer interface {
	// Poll returns the next records, waiting at most the poll timeout. An empty
	// result with a nil error means no records arrived.
	Poll(ctx context.Context) ([]Message, error)

	// Commit synchronously records offsets as processed. Each offset is the last
	// processed record of its partition.
	Commit(ctx context.Context, offsets []Offset) error

	Close() error
}

// AssignmentListener is notified, from within Poll, when partitions without a
// committed offset are assigned. positions are the current positions.
type AssignmentListener func(ctx context.Context, positions []Offset)

// AssignmentAware is implemented by consumers that report partition assignments.
type AssignmentAware interface {
	OnAssigned(fn AssignmentListener)
}

// TransactionCapable is implemented by brokers that can provide a
// TransactionManager bound to their consumers.
type TransactionCapable interface {
	TransactionManager() (TransactionManager, error)
}

// Observer receives container-level events, typically to record metrics.
type Observer interface {
	Committed(offsets int, transactional bool)
	RolledBack(err error)
	Fenced(action FencingAction)
	SecondaryCommitFailed(err error)
}

type nopObserver struct{}

func (nopObserver) Committed(int, bool)         {}
func (nopObserver) RolledBack(error)            {}
func (nopObserver) Fenced(FencingAction)        {}
func (nopObserver) SecondaryCommitFailed(error) {}
