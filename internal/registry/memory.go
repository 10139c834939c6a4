// ABOUTME: In-memory HandleStore that lives for the process lifetime
// ABOUTME: Default backing store for the registry

package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps handles in a map guarded by a mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	handles map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{handles: make(map[string]string)}
}

func (m *MemoryStore) LookupConversation(_ context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.handles[userID]
	return id, ok, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, userID, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.handles[userID]; ok {
		return existing, nil
	}
	m.handles[userID] = id
	return id, nil
}

// Len returns the number of stored handles.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}
