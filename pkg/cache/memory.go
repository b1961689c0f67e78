package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Service.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A ttl of 0 keeps entries until
// they are removed.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements Service.
func (m *MemoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return false, nil
	}

	if entry.IsExpired(m.now()) {
		m.mu.Lock()
		if current, ok := m.entries[key]; ok && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return false, nil
	}

	if err := entry.Decode(dest); err != nil {
		CacheErrors.WithLabelValues(layerMemory, "get").Inc()
		return false, err
	}

	CacheHits.WithLabelValues(layerMemory).Inc()
	return true, nil
}

// Set implements Service.
func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	entry, err := newEntry(value, m.ttl, m.now())
	if err != nil {
		CacheErrors.WithLabelValues(layerMemory, "set").Inc()
		return err
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Remove implements Service.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
