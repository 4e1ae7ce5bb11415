package metadata

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store. It is used when no remote store is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	puts    int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the stored record.
func (m *MemoryStore) Get(_ context.Context, address string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[strings.ToLower(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Put stores a copy of rec.
func (m *MemoryStore) Put(_ context.Context, address string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[strings.ToLower(address)] = rec.Clone()
	m.puts++
	return nil
}

// Puts returns the number of writes made.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.puts
}
