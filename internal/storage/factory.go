package storage

import (
	"errors"
	"fmt"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported store backend")
	ErrBackendUnavailable = errors.New("store backend not compiled into this build")
	ErrSQLitePathRequired = errors.New("sqlite backend requires a database path")
)

// CheckBackend validates the backend settings without opening anything. It
// does not know whether the backend was compiled in.
func CheckBackend(kind, sqlitePath string) error {
	switch kind {
	case "", BackendMemory:
		return nil
	case BackendSQLite:
		if sqlitePath == "" {
			return ErrSQLitePathRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, kind)
	}
}

// NewStore opens the run store named by kind. The empty kind selects the
// in-process memory store, which lives only as long as the process.
func NewStore(kind, sqlitePath string) (Store, error) {
	if err := CheckBackend(kind, sqlitePath); err != nil {
		return nil, err
	}
	if kind == BackendSQLite {
		return newSQLiteStore(sqlitePath)
	}
	return NewMemoryStore(), nil
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
