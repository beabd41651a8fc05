package storage

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
)

var _ ports.DecisionStore = (*MemoryStore)(nil)

// MemoryStore keeps encoded snapshots in a map. Values are stored encoded
// so a caller can never alias a stored snapshot, matching the isolation of
// a real store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailSaves makes every Save fail; tests use it to check that a
	// failed write leaves the session unchanged.
	FailSaves error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load returns the snapshot stored under key.
func (m *MemoryStore) Load(ctx context.Context, key string) (domain.SessionSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionSnapshot{}, false, ports.NewStoreError(key, "load", err)
	}
	m.mu.RLock()
	data, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return domain.SessionSnapshot{}, false, nil
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return domain.SessionSnapshot{}, false, ports.NewStoreError(key, "load", err)
	}
	return snap, true, nil
}

// Save replaces the snapshot stored under key.
func (m *MemoryStore) Save(ctx context.Context, key string, snapshot domain.SessionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return ports.NewStoreError(key, "save", err)
	}
	if m.FailSaves != nil {
		return ports.NewStoreError(key, "save", m.FailSaves)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return ports.NewStoreError(key, "save", err)
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

// Put stores raw bytes under key, bypassing encoding.
func (m *MemoryStore) Put(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(raw)
}

// Delete removes the snapshot stored under key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return ports.NewStoreError(key, "delete", err)
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Keys lists every stored key in sorted order.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError("", "keys", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data)), nil
}
