package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/northwind-energy/aigateway/pkg/models"
)

// memStore is an in-memory Store used to exercise the durable tier.
type memStore struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string][]byte
	expires map[string]time.Time
	sets    int
	failSet bool
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, data: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok || !m.now().Before(m.expires[key]) {
		return nil, false, nil
	}
	return v, true, nil
}

func (m *memStore) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("store down")
	}
	m.sets++
	m.data[key] = value
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Stats(context.Context) (models.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CacheStats{Entries: int64(len(m.data))}, nil
}

func (m *memStore) Clear(context.Context, bool) error { return nil }
func (m *memStore) Close() error                      { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func syncRunner(f func()) { f() }

func newTestCache(store Store, clock *fakeClock) *ResponseCache {
	return NewResponseCache(NewDurable(store, nil), Options{Now: clock.Now, Async: syncRunner})
}

func TestTTLMapExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := NewTTLMap[string](clock.Now)

	m.Set("a", "1", time.Minute)
	m.Set("zero", "x", 0)

	if v, ok := m.Get("a"); !ok || v != "1" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}
	if _, ok := m.Get("zero"); ok {
		t.Error("zero ttl must not be stored")
	}

	clock.Advance(time.Minute)
	if v, ok := m.GetStale("a"); !ok || v != "1" {
		t.Error("stale value should remain until evicted")
	}
	if _, ok := m.Get("a"); ok {
		t.Error("expected miss at expiry")
	}
	if m.Len() != 0 {
		t.Errorf("expected lazy eviction, len=%d", m.Len())
	}
}

func TestTTLMapSweepsOnWrite(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := NewTTLMap[string](clock.Now)
	var evicted []string
	m.OnEvict(func(key, _ string) { evicted = append(evicted, key) })

	m.Set("never-read", "x", time.Minute)
	clock.Advance(2 * time.Minute)
	if m.Len() != 0 {
		t.Errorf("expired entries must not be counted, len=%d", m.Len())
	}

	for i := 1; i < sweepEvery; i++ {
		m.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
	}
	if _, ok := m.GetStale("never-read"); ok {
		t.Error("expected expired entry to be swept")
	}
	if len(evicted) != 1 || evicted[0] != "never-read" {
		t.Errorf("expected sweep to report the evicted key, got %v", evicted)
	}
	if m.Len() != sweepEvery-1 {
		t.Errorf("expected %d live entries, got %d", sweepEvery-1, m.Len())
	}
}

func TestSweptResponseStaysAvailableAsStale(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCache(nil, clock)
	ctx := context.Background()

	c.Write(ctx, "old", time.Minute, models.CallSuccess{Message: "kept"})
	clock.Advance(2 * time.Minute)
	for i := 1; i < sweepEvery; i++ {
		c.Write(ctx, fmt.Sprintf("k%d", i), time.Hour, models.CallSuccess{Message: "v"})
	}

	got, ok := c.ReadStale(ctx, "old")
	if !ok || got.Message != "kept" {
		t.Fatalf("expected swept entry in stale grace, got %+v ok=%v", got, ok)
	}
}

func TestReadWriteWithinTTL(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCache(nil, clock)
	ctx := context.Background()

	want := models.CallSuccess{Message: "hello", ModelUsed: "openai/gpt-4o-mini"}
	c.Write(ctx, "k", 10*time.Minute, want)

	clock.Advance(10*time.Minute - time.Millisecond)
	got, ok := c.Read(ctx, "k")
	if !ok || got.Message != want.Message || got.ModelUsed != want.ModelUsed {
		t.Fatalf("expected %+v, got %+v ok=%v", want, got, ok)
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Read(ctx, "k"); ok {
		t.Error("expected miss after TTL")
	}
}

func TestZeroTTLNotCached(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newMemStore(clock.Now)
	c := newTestCache(store, clock)
	ctx := context.Background()

	c.Write(ctx, "k", 0, models.CallSuccess{Message: "x"})
	if _, ok := c.Read(ctx, "k"); ok {
		t.Error("zero TTL must not cache")
	}
	if store.sets != 0 {
		t.Errorf("expected no durable writes, got %d", store.sets)
	}
}

func TestDurableBackfill(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newMemStore(clock.Now)
	ctx := context.Background()

	writer := newTestCache(store, clock)
	writer.Write(ctx, "k", time.Hour, models.CallSuccess{Message: "from other process", ModelUsed: "m"})
	if store.sets != 1 {
		t.Fatalf("expected 1 durable write, got %d", store.sets)
	}

	// a fresh process only sees the durable tier
	reader := newTestCache(store, clock)
	got, ok := reader.Read(ctx, "k")
	if !ok || got.Message != "from other process" {
		t.Fatalf("expected durable hit, got %+v ok=%v", got, ok)
	}
	if _, ok := reader.mem.Get("k"); !ok {
		t.Error("expected in-process tier to be backfilled")
	}
}

func TestReadStale(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newMemStore(clock.Now)
	ctx := context.Background()

	c := newTestCache(store, clock)
	c.Write(ctx, "k", time.Minute, models.CallSuccess{Message: "old"})
	clock.Advance(time.Hour)

	if _, ok := c.Read(ctx, "k"); ok {
		t.Fatal("expected live read to miss")
	}
	got, ok := c.ReadStale(ctx, "k")
	if !ok || got.Message != "old" {
		t.Fatalf("expected stale value, got %+v ok=%v", got, ok)
	}
	if c.Stats(ctx).StaleHits != 1 {
		t.Errorf("expected 1 stale hit")
	}
}

func TestDurableWriteFailureIsSwallowed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newMemStore(clock.Now)
	store.failSet = true
	c := newTestCache(store, clock)
	ctx := context.Background()

	c.Write(ctx, "k", time.Minute, models.CallSuccess{Message: "v"})
	if _, ok := c.Read(ctx, "k"); !ok {
		t.Error("in-process tier must still hold the value")
	}
}

func TestUnconfiguredDurable(t *testing.T) {
	d := NewDurable(nil, nil)
	ctx := context.Background()
	if d.Configured() {
		t.Fatal("expected unconfigured adapter")
	}
	if err := d.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Errorf("set should be a no-op, got %v", err)
	}
	if _, ok := d.Get(ctx, "k"); ok {
		t.Error("get should miss")
	}
	if _, err := d.Stats(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(16, "es", "Hello")
	b := Fingerprint(16, "es", "Hello")
	c := Fingerprint(16, "esH", "ello")
	if a != b {
		t.Error("same input should produce same fingerprint")
	}
	if a == c {
		t.Error("part boundaries must be significant")
	}
	if len(a) != 16 {
		t.Errorf("expected 16 chars, got %d", len(a))
	}
}

func TestReadStaleAfterEviction(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestCache(nil, clock)
	ctx := context.Background()

	c.Write(ctx, "k", time.Minute, models.CallSuccess{Message: "kept"})
	clock.Advance(2 * time.Minute)

	// the live read evicts the entry from the in-process tier
	if _, ok := c.Read(ctx, "k"); ok {
		t.Fatal("expected miss")
	}
	got, ok := c.ReadStale(ctx, "k")
	if !ok || got.Message != "kept" {
		t.Fatalf("expected evicted value to remain available, got %+v ok=%v", got, ok)
	}
}
