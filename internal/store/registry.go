package store

import (
	"fmt"
	"strings"
	"sync"
)

// Factory builds a Store from a DSN whose scheme it was registered under.
type Factory func(dsn string) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to BuildFromDSN under scheme. Packages
// that cannot be imported here (for example the NATS key-value backend)
// register themselves at startup.
func Register(scheme string, factory Factory) error {
	scheme = normalizeScheme(scheme)
	if scheme == "" {
		return fmt.Errorf("store scheme is required")
	}
	if factory == nil {
		return fmt.Errorf("store factory is required for scheme %q", scheme)
	}
	registryMu.Lock()
	registry[scheme] = factory
	registryMu.Unlock()
	return nil
}

func lookup(scheme string) (Factory, bool) {
	registryMu.RLock()
	factory, ok := registry[normalizeScheme(scheme)]
	registryMu.RUnlock()
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
