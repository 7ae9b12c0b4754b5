package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	added     uint64
}

// MemoryProvider is an in-process Provider with per-key TTL. When full, the
// oldest entry is evicted.
type MemoryProvider struct {
	mu         sync.Mutex
	data       map[string]entry
	maxEntries int
	seq        uint64
	now        func() time.Time
}

// NewMemoryProvider creates a cache holding at most maxEntries keys; zero
// means unbounded.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	return &MemoryProvider{data: make(map[string]entry), maxEntries: maxEntries, now: time.Now}
}

// Get returns the value for key or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if m.expired(e) {
		delete(m.data, key)
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

// Del removes key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]entry)
	return nil
}

// Len is the number of stored keys, expired ones included.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemoryProvider) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *MemoryProvider) put(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if _, exists := m.data[key]; !exists && m.maxEntries > 0 && len(m.data) >= m.maxEntries {
		m.evict()
	}
	m.seq++
	m.data[key] = entry{value: append([]byte(nil), value...), expiresAt: expires, added: m.seq}
}

// evict drops expired entries, or the oldest one if none expired.
func (m *MemoryProvider) evict() {
	oldestKey, oldest := "", uint64(0)
	dropped := false
	for k, e := range m.data {
		if m.expired(e) {
			delete(m.data, k)
			dropped = true
			continue
		}
		if oldestKey == "" || e.added < oldest {
			oldestKey, oldest = k, e.added
		}
	}
	if !dropped && oldestKey != "" {
		delete(m.data, oldestKey)
	}
}
