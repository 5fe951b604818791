package directory

import "sync"

// memoryStore is the in-process directory map. A plain mutex is enough: the
// relay loop is the only writer and readers only take snapshots.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]int
}

// NewMemoryStore returns an in-memory directory store.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[string]int)}
}

func (m *memoryStore) Publish(id string, port int) {
	m.mu.Lock()
	m.entries[id] = port
	m.mu.Unlock()
}

func (m *memoryStore) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

func (m *memoryStore) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.entries))
	for id, port := range m.entries {
		out[id] = port
	}
	return out
}

func (m *memoryStore) Close() error { return nil }
