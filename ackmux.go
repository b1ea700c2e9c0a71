// Package ackmux provides the top-level API for ackmux listener containers.
// It re-exports core types for convenience, so users can write:
//
//	props, _ := ackmux.NewProperties(ackmux.WithTopics("orders"), ackmux.WithGroupID("billing"))
//	c := ackmux.New(b, props)
//	c.Handle("orders", handler)
//	c.Start(ctx)
package ackmux

import (
	"github.com/miladsoleymani/ackmux/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Message        = core.Message
	Context        = core.Context
	HandlerFunc    = core.HandlerFunc
	MiddlewareFunc = core.MiddlewareFunc
	Broker         = core.Broker
	Container      = core.Container
	Properties     = core.Properties
	Option         = core.Option
	AckMode        = core.AckMode
	Offset         = core.Offset
)

// Ack modes.
const (
	AckModeRecord          = core.AckModeRecord
	AckModeBatch           = core.AckModeBatch
	AckModeTime            = core.AckModeTime
	AckModeCount           = core.AckModeCount
	AckModeCountTime       = core.AckModeCountTime
	AckModeManual          = core.AckModeManual
	AckModeManualImmediate = core.AckModeManualImmediate
)

// Frequently used options.
var (
	WithTopics             = core.WithTopics
	WithTopicPattern       = core.WithTopicPattern
	WithGroupID            = core.WithGroupID
	WithAckMode            = core.WithAckMode
	WithAckCount           = core.WithAckCount
	WithAckTime            = core.WithAckTime
	WithTransactionManager = core.WithTransactionManager
	WithParticipants       = core.WithParticipants
	WithEOSMode            = core.WithEOSMode
	WithInterceptors       = core.WithInterceptors
)

// NewProperties validates opts and returns container properties.
func NewProperties(opts ...Option) (*Properties, error) {
	return core.NewProperties(opts...)
}

// New creates a new Container bound to the given Broker.
func New(b Broker, props *Properties) *Container {
	return core.New(b, props)
}
