package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "resp:abc", []byte(`{"message":"hello"}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, ok, err := s.Get(ctx, "resp:abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"message":"hello"}` {
		t.Errorf("unexpected value: %s", data)
	}

	_, ok, err = s.Get(ctx, "resp:other")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestTTLExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "k", []byte("data"), time.Minute); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return now.Add(59 * time.Second) }
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	s.now = func() time.Time { return now.Add(time.Minute) }
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected cache miss at expiry")
	}

	data, ok, err := s.GetStale(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != "data" {
		t.Errorf("expected stale value, got %q ok=%v", data, ok)
	}
}

func TestOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v1"), time.Hour)
	_ = s.Set(ctx, "k", []byte("v2"), time.Hour)

	data, ok, _ := s.Get(ctx, "k")
	if !ok || string(data) != "v2" {
		t.Errorf("expected v2, got %q", data)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Hour)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetStale(ctx, "k"); ok {
		t.Error("expected key to be gone")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "h1", []byte("data"), time.Hour)
	s.Get(ctx, "h1") // hit
	s.Get(ctx, "h2") // miss

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", []byte("data"), time.Second)
	_ = s.Set(ctx, "long", []byte("data"), time.Hour)

	s.now = func() time.Time { return now.Add(time.Minute) }
	if err := s.Clear(ctx, true); err != nil {
		t.Fatal(err)
	}
	stats, _ := s.Stats(ctx)
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry after expired clear, got %d", stats.Entries)
	}

	if err := s.Clear(ctx, false); err != nil {
		t.Fatal(err)
	}
	stats, _ = s.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries after clear, got %d", stats.Entries)
	}
}
