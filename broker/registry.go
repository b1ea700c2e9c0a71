package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/ackmux/core"
)

// Factory creates a Broker from the given Config.
type Factory func(cfg Config) (core.Broker, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named broker factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a broker by name using the registered factory.
func Create(name string, cfg Config) (core.Broker, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ackmux: unknown broker %q (registered: %v)", name, Names())
	}
	return f(cfg)
}

// Names returns the registered broker names in lexical order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransactionManager returns the transaction manager of b when it supports
// broker transactions.
func TransactionManager(b core.Broker) (core.TransactionManager, error) {
	tc, ok := b.(core.TransactionCapable)
	if !ok {
		return nil, fmt.Errorf("ackmux: broker %T does not support transactions", b)
	}
	return tc.TransactionManager()
}
