package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
)

type memoryEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of kv.ReadWriter for local runs
// and tests. Expired entries are dropped on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	entry := memoryEntry{value: append(json.RawMessage(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry

	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, kv.ErrNotFound
	}

	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()

		return nil, kv.ErrNotFound
	}

	return entry.value, nil
}

// Len returns the number of stored entries, including expired ones not yet read.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

var _ kv.ReadWriter = (*MemoryStore)(nil)
