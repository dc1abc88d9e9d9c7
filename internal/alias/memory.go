package alias

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	hash      string
	expiresAt time.Time
}

// Memory is the in-process Cache used by tests and degraded mode. Expired
// entries are dropped lazily on read.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemory returns an empty in-memory alias cache. A non-positive ttl stores
// entries without expiry.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", ErrNotFound
	}
	return e.hash, nil
}

func (m *Memory) Put(ctx context.Context, key, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{hash: contentHash}
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}
