package cache

import (
	"sync"
	"time"
)

type ttlItem[V any] struct {
	value     V
	expiresAt time.Time
}

// sweepEvery is the number of writes between two sweeps of expired entries.
const sweepEvery = 256

// TTLMap is an in-process map whose entries expire after a per-entry TTL.
// Expired entries are evicted lazily on read, and swept every sweepEvery
// writes so keys that are never read again do not accumulate.
type TTLMap[V any] struct {
	mu      sync.RWMutex
	items   map[string]ttlItem[V]
	writes  int
	now     func() time.Time
	onEvict func(key string, value V)
}

// NewTTLMap creates an empty TTLMap. A nil now uses time.Now.
func NewTTLMap[V any](now func() time.Time) *TTLMap[V] {
	if now == nil {
		now = time.Now
	}
	return &TTLMap[V]{items: make(map[string]ttlItem[V]), now: now}
}

// Get returns the value for key if present and not expired.
func (m *TTLMap[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !m.now().Before(it.expiresAt) {
		m.mu.Lock()
		// another writer may have refreshed the entry meanwhile
		evicted := false
		if cur, ok := m.items[key]; ok && cur.expiresAt.Equal(it.expiresAt) {
			delete(m.items, key)
			evicted = true
		}
		onEvict := m.onEvict
		m.mu.Unlock()
		if evicted && onEvict != nil {
			onEvict(key, it.value)
		}
		return zero, false
	}
	return it.value, true
}

// OnEvict registers fn to receive entries evicted for expiry.
func (m *TTLMap[V]) OnEvict(fn func(key string, value V)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

// GetStale returns the value for key even if it has expired, as long as it
// has not been evicted yet.
func (m *TTLMap[V]) GetStale(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	return it.value, ok
}

// Set replaces the entry for key. A non-positive ttl is ignored.
func (m *TTLMap[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.put(key, ttlItem[V]{value: value, expiresAt: m.now().Add(ttl)})
}

// SetUntil replaces the entry for key with an absolute expiry.
func (m *TTLMap[V]) SetUntil(key string, value V, expiresAt time.Time) {
	if !m.now().Before(expiresAt) {
		return
	}
	m.put(key, ttlItem[V]{value: value, expiresAt: expiresAt})
}

func (m *TTLMap[V]) put(key string, it ttlItem[V]) {
	var (
		sweptKeys []string
		sweptVals []V
	)

	m.mu.Lock()
	m.items[key] = it
	m.writes++
	if m.writes%sweepEvery == 0 {
		now := m.now()
		for k, cur := range m.items {
			if !now.Before(cur.expiresAt) {
				delete(m.items, k)
				sweptKeys = append(sweptKeys, k)
				sweptVals = append(sweptVals, cur.value)
			}
		}
	}
	onEvict := m.onEvict
	m.mu.Unlock()

	if onEvict != nil {
		for i, k := range sweptKeys {
			onEvict(k, sweptVals[i])
		}
	}
}

// Delete removes key.
func (m *TTLMap[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len returns the number of unexpired entries.
func (m *TTLMap[V]) Len() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		if now.Before(it.expiresAt) {
			n++
		}
	}
	return n
}
