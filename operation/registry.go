package operation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a fresh operation instance per invocation.
type Factory func() Operation

// Registry is the catalogue of named operations. It is write-mostly at
// program start and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory under name. Duplicate registration overwrites
// with a warning.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		r.logger.Warn("Overwriting registered operation", "name", name)
	}
	r.factories[name] = factory
}

// New instantiates the operation registered under name.
func (r *Registry) New(name string) (Operation, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return factory(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered operation names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
