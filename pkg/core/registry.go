package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an environment constructible by name. Subprocess workers
// rebuild their env from this registry, so registration must happen in
// package init of a package the worker binary links.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("environment %s is already registered", name))
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("environment %s is not registered", name)
	}
	return f, nil
}

// Make builds a new env registered under name.
func Make(name string) (Env, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f()
}

// Names lists registered environments in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
