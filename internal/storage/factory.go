package storage

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open creates a store for the named backend. path is a database file for
// sqlite and a directory for badger; it is ignored for memory.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return NewSQLiteStore(path)
	case BackendBadger:
		return NewBadgerStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite, badger)", backend)
	}
}
