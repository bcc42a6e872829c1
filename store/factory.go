package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// NewBundle creates a store Bundle for the given backend ("memory" or
// "sqlite"). path is only used by sqlite.
func NewBundle(backend, path string) (*Bundle, error) {
	switch backend {
	case "", "memory":
		return NewMemoryBundle(), nil

	case "sqlite":
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
		return NewSQLiteBundle(path)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (expected 'memory' or 'sqlite')", backend)
	}
}
