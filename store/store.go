// Package store provides the namespaced key-value abstraction shared by
// operations, plus the engine registry and the Badger reference engine.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Store is the namespaced KV contract. Per-key operations are atomic
// and durably visible after return; namespaces are independent.
type Store interface {
	// Namespaces lists the configured namespace names.
	Namespaces() []string
	// Set writes value under key in the given namespace.
	Set(namespace, key, value string) error
	// Get reads a key. A missing key yields "" and no error.
	Get(namespace, key string) (string, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(namespace, key string) error
	// Close releases the backend.
	Close() error
}

// NamespaceConfig describes one isolated keyspace.
type NamespaceConfig struct {
	Name      string         `yaml:"name" json:"name"`
	PrefixLen int            `yaml:"prefix_len,omitempty" json:"prefix_len,omitempty"`
	Options   map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Config describes the datastore of a flow.
type Config struct {
	Kind       string            `yaml:"kind" json:"kind"`
	ConnStr    string            `yaml:"conn_str" json:"conn_str"`
	Options    map[string]any    `yaml:"options,omitempty" json:"options,omitempty"`
	TTLSeconds int               `yaml:"ttl_seconds,omitempty" json:"ttl_seconds,omitempty"`
	Namespaces []NamespaceConfig `yaml:"namespaces,omitempty" json:"namespaces,omitempty"`
}

// Validate checks the config before the engine is opened.
func (c *Config) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("datastore kind is required")
	}
	if c.ConnStr == "" {
		return fmt.Errorf("datastore conn_str is required")
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespace name is required")
		}
		if seen[ns.Name] {
			return fmt.Errorf("duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
	}
	return nil
}

// Engine constructs a Store from its config.
type Engine func(cfg Config, logger *slog.Logger) (Store, error)

var (
	// ErrUnknownKind is returned when no engine matches the config kind.
	ErrUnknownKind = errors.New("unknown store kind")
	// ErrUnknownNamespace is returned for operations outside the
	// configured namespaces.
	ErrUnknownNamespace = errors.New("unknown namespace")

	enginesMu sync.RWMutex
	engines   = map[string]Engine{}
)

// RegisterEngine makes an engine available under the given kind.
func RegisterEngine(kind string, engine Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, exists := engines[kind]; exists {
		slog.Warn("Overwriting store engine", "kind", kind)
	}
	engines[kind] = engine
}

// Open validates cfg and constructs the matching engine. A failing
// backend is fatal at flow init, so errors surface unchanged.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enginesMu.RLock()
	engine, ok := engines[cfg.Kind]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return engine(cfg, logger)
}
