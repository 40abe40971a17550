package store

import (
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	badgeroptions "github.com/dgraph-io/badger/v4/options"
)

// KindBadger is the LSM-backed local engine.
const KindBadger = "badger"

func init() {
	RegisterEngine(KindBadger, openBadger)
}

// badgerStore maps namespaces onto key prefixes of a single Badger DB.
// TTL, when configured, rides on Badger's native entry TTL.
type badgerStore struct {
	db         *badger.DB
	ttl        time.Duration
	namespaces []string
	known      map[string]bool
	logger     *slog.Logger
}

func openBadger(cfg Config, logger *slog.Logger) (Store, error) {
	opts := badger.DefaultOptions(cfg.ConnStr)
	opts = opts.WithLogger(nil)
	opts = applyBadgerOptions(opts, cfg.Options, logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.ConnStr, err)
	}

	s := &badgerStore{
		db:     db,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		known:  make(map[string]bool, len(cfg.Namespaces)),
		logger: logger,
	}
	for _, ns := range cfg.Namespaces {
		s.namespaces = append(s.namespaces, ns.Name)
		s.known[ns.Name] = true
	}
	logger.Debug("Badger store opened",
		"path", cfg.ConnStr,
		"namespaces", len(s.namespaces),
		"ttl", s.ttl)
	return s, nil
}

// applyBadgerOptions maps the options block onto Badger tuneables.
// Unknown options are ignored.
func applyBadgerOptions(opts badger.Options, raw map[string]any, logger *slog.Logger) badger.Options {
	for name, value := range raw {
		switch name {
		case "write_buffer_size":
			if n, ok := toInt64(value); ok {
				opts = opts.WithMemTableSize(n)
			}
		case "value_log_file_size":
			if n, ok := toInt64(value); ok {
				opts = opts.WithValueLogFileSize(n)
			}
		case "num_compactors":
			if n, ok := toInt64(value); ok {
				opts = opts.WithNumCompactors(int(n))
			}
		case "num_memtables":
			if n, ok := toInt64(value); ok {
				opts = opts.WithNumMemtables(int(n))
			}
		case "bloom_false_positive":
			if f, ok := toFloat64(value); ok {
				opts = opts.WithBloomFalsePositive(f)
			}
		case "compression":
			switch fmt.Sprint(value) {
			case "none":
				opts = opts.WithCompression(badgeroptions.None)
			case "snappy":
				opts = opts.WithCompression(badgeroptions.Snappy)
			case "zstd":
				opts = opts.WithCompression(badgeroptions.ZSTD)
			default:
				logger.Debug("Ignoring unknown compression type", "value", value)
			}
		case "sync_writes":
			if b, ok := value.(bool); ok {
				opts = opts.WithSyncWrites(b)
			}
		case "in_memory":
			if b, ok := value.(bool); ok {
				opts = opts.WithInMemory(b)
			}
		default:
			logger.Debug("Ignoring unknown store option", "option", name)
		}
	}
	return opts
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *badgerStore) Namespaces() []string {
	out := make([]string, len(s.namespaces))
	copy(out, s.namespaces)
	return out
}

func (s *badgerStore) key(namespace, key string) ([]byte, error) {
	if !s.known[namespace] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	return []byte(namespace + "/" + key), nil
}

func (s *badgerStore) Set(namespace, key, value string) error {
	k, err := s.key(namespace, key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(k, []byte(value))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *badgerStore) Get(namespace, key string) (string, error) {
	k, err := s.key(namespace, key)
	if err != nil {
		return "", err
	}
	var value string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (s *badgerStore) Delete(namespace, key string) error {
	k, err := s.key(namespace, key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
