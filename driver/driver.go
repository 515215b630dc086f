// Package driver keeps a registry of named provider constructors so that
// configuration can select a backend by name. Backends register themselves
// from init, so importing a backend package is enough to make it available.
package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

var (
	constructorsMu sync.RWMutex
	constructors   = make(map[string]Constructor)
)

// Config is the raw type of the backend configurations.
type Config any

// Constructor is the signature of a provider constructor.
type Constructor func(ctx context.Context, options Config, logger *observability.SLogger) (store.Provider, error)

// Register registers a new provider constructor.
// It panics if the constructor is nil or if it's called twice for the same name.
func Register(name string, cttr Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	if cttr == nil {
		panic("leasekeeper: Register constructor is nil")
	}

	if _, dup := constructors[name]; dup {
		panic("leasekeeper: Register called twice for constructor " + name)
	}

	constructors[name] = cttr
}

// Unregister unregisters a provider constructor.
func Unregister(name string) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	delete(constructors, name)
}

// UnregisterAll unregisters all provider constructors.
func UnregisterAll() {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	constructors = make(map[string]Constructor)
}

// Constructors returns a sorted list of the names of the registered constructors.
func Constructors() []string {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()

	list := make([]string, 0, len(constructors))
	for name := range constructors {
		list = append(list, name)
	}

	sort.Strings(list)

	return list
}

// UnknownBackendError is returned when a requested backend is not registered.
type UnknownBackendError struct {
	Backend string
}

func (e UnknownBackendError) Error() string {
	return "unknown backend " + e.Backend + " (forgotten import?)"
}

// New creates a provider using the constructor registered under name.
func New(ctx context.Context, name string, options Config, logger *observability.SLogger) (store.Provider, error) {
	constructorsMu.RLock()
	construct, ok := constructors[name]
	constructorsMu.RUnlock()

	if !ok || construct == nil {
		return nil, UnknownBackendError{Backend: name}
	}

	return construct(ctx, options, logger)
}
