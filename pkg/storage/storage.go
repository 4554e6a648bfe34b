// Package storage persists the client session between runs.
//
// Implementations must apply Save and Delete atomically: either every key in
// the call is written (or removed) or none is. The session store relies on this
// to keep the token, principal and expiry consistent with each other.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Storage is a small durable string key-value store.
type Storage interface {
	// Load returns the stored values for keys. Missing keys are absent from the map.
	Load(ctx context.Context, keys ...string) (map[string]string, error)
	// Save writes all values in one atomic step.
	Save(ctx context.Context, values map[string]string) error
	// Delete removes all keys in one atomic step. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Open returns the storage named by driver: "memory", "sqlite" or "file".
func Open(driver, path string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "file":
		return OpenFile(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
