package core

import (
	"context"

	"go.uber.org/zap"
)

// ErrorHandler is the fault-recovery collaborator invoked when a handler fails.
// Returning nil marks the fault as handled: under a transaction manager the
// transaction commits, otherwise the unit counts as processed when
// AckAfterHandle is true. Returning an error rolls the transaction back; wrap
// ErrStopContainer to stop the container.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error, msgs []Message) error

	// AckAfterHandle reports whether the offsets of a handled fault are
	// committed by the ack policy.
	AckAfterHandle() bool
}

// ErrorHandlerFunc adapts a function to ErrorHandler. Handled faults are acknowledged.
type ErrorHandlerFunc func(ctx context.Context, err error, msgs []Message) error

func (f ErrorHandlerFunc) HandleError(ctx context.Context, err error, msgs []Message) error {
	return f(ctx, err, msgs)
}

func (f ErrorHandlerFunc) AckAfterHandle() bool { return true }

// LoggingErrorHandler logs the fault and treats it as handled.
type LoggingErrorHandler struct {
	Logger *zap.Logger
	// SkipAck keeps the offsets of failed units out of the commit.
	SkipAck bool
}

func (h LoggingErrorHandler) HandleError(_ context.Context, err error, msgs []Message) error {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.Error(err), zap.Int("records", len(msgs))}
	if len(msgs) > 0 {
		fields = append(fields,
			zap.String("topic", msgs[0].Topic()),
			zap.Int("partition", msgs[0].Partition()),
			zap.Int64("offset", msgs[0].Offset()),
		)
	}
	logger.Error("Error while processing records", fields...)
	return nil
}

func (h LoggingErrorHandler) AckAfterHandle() bool { return !h.SkipAck }
