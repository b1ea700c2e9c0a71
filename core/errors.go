package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("ackmux: broker is closed")

	// ErrNoHandler is returned when no handler matches the incoming topic.
	ErrNoHandler = errors.New("ackmux: no handler registered for topic")

	// ErrAlreadyStarted is returned when Start is called on a running container.
	ErrAlreadyStarted = errors.New("ackmux: container already started")

	// ErrNoBroker is returned when a container is created without a broker.
	ErrNoBroker = errors.New("ackmux: broker is nil")

	// ErrInvalidProperties wraps every configuration error raised by NewProperties.
	ErrInvalidProperties = errors.New("ackmux: invalid container properties")

	// ErrNotManualAck is returned when a handler acknowledges explicitly while the
	// container is not in a manual ack mode.
	ErrNotManualAck = errors.New("ackmux: explicit acknowledgment requires MANUAL or MANUAL_IMMEDIATE ack mode")

	// ErrFenced marks a transactional resource that was superseded by a newer
	// instance with the same transactional identity. Plugins wrap broker codes with it.
	ErrFenced = errors.New("ackmux: transactional resource fenced")

	// ErrStopContainer may be wrapped by an ErrorHandler to stop the container
	// instead of continuing with the next delivery unit.
	ErrStopContainer = errors.New("ackmux: stop container requested")
)

// SecondaryCommitError reports that the broker transaction committed but one or
// more synchronized participants failed to commit. The offsets are already
// recorded by the broker, so the caller has to compensate.
type SecondaryCommitError struct {
	Offsets []Offset
	Err     error
}

func (e *SecondaryCommitError) Error() string {
	return fmt.Sprintf("ackmux: secondary transaction commit failed after primary commit of %d offset(s): %v",
		len(e.Offsets), e.Err)
}

func (e *SecondaryCommitError) Unwrap() error { return e.Err }

// IsFenced reports whether err signals a fenced transactional resource.
func IsFenced(err error) bool {
	return errors.Is(err, ErrFenced)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidProperties}, args...)...)
}
