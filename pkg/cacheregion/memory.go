package cacheregion

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryBackend is an in-process, TTL-expiring cache backend. It is the
// default for iib_dogpile_backend=memory.
type MemoryBackend struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	expiration time.Duration
	now        func() time.Time
}

// NewMemoryBackend constructs a MemoryBackend with the given entry
// lifetime (iib_dogpile_expiration_time).
func NewMemoryBackend(expiration time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries:    map[string]memoryEntry{},
		expiration: expiration,
		now:        time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expires) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		value:   value,
		expires: m.now().Add(m.expiration),
	}
	return nil
}
