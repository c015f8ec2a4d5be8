// Package store provides local persistence for budgetr: a small key/value
// storage collaborator backed by embedded SQLite, and the ledger snapshot
// store layered on top of it.
package store

import (
	"context"
	"sync"
)

// Storage keys. These are the on-disk contract and must not change: the
// snapshot written under KeyAccount is what older installs migrate from.
const (
	// KeyAccount holds the serialized ledger snapshot.
	KeyAccount = "budgetr_account"

	// KeyAutoSyncEnabled holds "true"/"false" for the auto-sync flag.
	KeyAutoSyncEnabled = "budgetr_autosync_enabled"

	// KeyAutoSyncLastSync holds the last successful sync time (RFC 3339).
	KeyAutoSyncLastSync = "budgetr_autosync_lastsync"
)

// Store is the key/value persistence collaborator. Implementations must be
// safe for concurrent use.
type Store interface {
	// GetItem returns the value for key, with ok=false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem writes the value for key, replacing any existing value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes the key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// Memory is an in-memory Store used by tests and as a scratch store when no
// database path is configured.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *Memory) SetItem(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
