package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider implements Provider with an in-process map. It backs local
// development runs where no Valkey instance is available, and tests.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-process cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem)}
}

// Get returns the cached bytes or ErrCacheMiss when absent or expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		delete(m.data, key)
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores bytes with an optional TTL.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = memoryItem{value: stored, expiresAt: expires}
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (m *MemoryProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	it, ok := m.data[key]
	live := ok && (it.expiresAt.IsZero() || time.Now().Before(it.expiresAt))
	m.mu.Unlock()

	if live {
		return false, nil
	}
	return true, m.Set(ctx, key, value, ttl)
}

// Close is a no-op.
func (m *MemoryProvider) Close() error { return nil }
