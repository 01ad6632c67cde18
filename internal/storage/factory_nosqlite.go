//go:build !sqlite

package storage

import "fmt"

func newSQLiteStore(path string) (Store, error) {
	return nil, fmt.Errorf("%w: %s (%s); rebuild with -tags sqlite", ErrBackendUnavailable, BackendSQLite, path)
}
