package broker

import (
	"time"

	"go.uber.org/zap"
)

// Config holds broker-agnostic configuration.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string

	// Group is the consumer group ID.
	Group string

	// ClientID identifies the client to the broker. Plugins generate one when empty.
	ClientID string

	// TransactionalIDPrefix enables broker transactions for plugins that support
	// them. Transactional ids are derived from it.
	TransactionalIDPrefix string

	// TransactionTimeout is the broker-side transaction timeout.
	TransactionTimeout time.Duration

	// Logger is handed to the plugin. Nil disables plugin logging.
	Logger *zap.Logger

	// Extra holds plugin-specific configuration.
	Extra map[string]any
}

// Transactional reports whether the config asks for broker transactions.
func (c Config) Transactional() bool { return c.TransactionalIDPrefix != "" }

// LoggerOrNop returns Logger or a no-op logger.
func (c Config) LoggerOrNop() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
