package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/northwind-energy/aigateway/pkg/models"
)

const responsePrefix = "resp:"

// staleGrace is how long an expired in-process response stays available
// for stale fallback after eviction.
const staleGrace = 24 * time.Hour

// Options tunes a ResponseCache.
type Options struct {
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// Async runs durable writes off the caller's path; defaults to a
	// goroutine. Tests pass a synchronous runner.
	Async func(func())
	Logger *slog.Logger
}

// ResponseCache is the two-tier cache in front of the gateway: an
// in-process TTLMap checked first, then the durable store, which also
// backfills the in-process tier.
type ResponseCache struct {
	mem     *TTLMap[models.CallSuccess]
	stale   *TTLMap[models.CallSuccess]
	durable *Durable
	now     func() time.Time
	async   func(func())
	log     *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	staleHits atomic.Int64
}

// NewResponseCache builds a ResponseCache over durable, which may be
// unconfigured.
func NewResponseCache(durable *Durable, opts Options) *ResponseCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	async := opts.Async
	if async == nil {
		async = func(f func()) { go f() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &ResponseCache{
		mem:     NewTTLMap[models.CallSuccess](now),
		stale:   NewTTLMap[models.CallSuccess](now),
		durable: durable,
		now:     now,
		async:   async,
		log:     log.With("component", "response_cache"),
	}
	c.mem.OnEvict(func(key string, v models.CallSuccess) {
		c.stale.Set(key, v, staleGrace)
	})
	return c
}

// Read returns the cached success for key, if any.
func (c *ResponseCache) Read(ctx context.Context, key string) (models.CallSuccess, bool) {
	if key == "" {
		return models.CallSuccess{}, false
	}
	if v, ok := c.mem.Get(key); ok {
		c.hits.Add(1)
		return v, true
	}

	entry, ok := c.readDurable(ctx, key, false)
	if !ok || entry.Expired(c.now()) {
		c.misses.Add(1)
		return models.CallSuccess{}, false
	}
	c.mem.SetUntil(key, entry.Value, entry.ExpiresAt)
	c.hits.Add(1)
	return entry.Value, true
}

// ReadStale returns a previously written success for key regardless of its
// TTL. The in-process tier and its recently evicted entries are consulted
// first, then the durable tier.
func (c *ResponseCache) ReadStale(ctx context.Context, key string) (models.CallSuccess, bool) {
	if key == "" {
		return models.CallSuccess{}, false
	}
	if v, ok := c.mem.GetStale(key); ok {
		c.staleHits.Add(1)
		return v, true
	}
	if v, ok := c.stale.Get(key); ok {
		c.staleHits.Add(1)
		return v, true
	}
	entry, ok := c.readDurable(ctx, key, true)
	if !ok {
		return models.CallSuccess{}, false
	}
	c.staleHits.Add(1)
	return entry.Value, true
}

// Write stores success under key for ttl. A zero ttl means do not cache.
// The in-process tier is updated before Write returns; the durable write is
// handed to the async runner and failures are only logged.
func (c *ResponseCache) Write(ctx context.Context, key string, ttl time.Duration, success models.CallSuccess) {
	if key == "" || ttl <= 0 {
		return
	}
	success.ServedFromCache = false
	success.Stale = false
	c.mem.Set(key, success, ttl)

	if !c.durable.Configured() {
		return
	}
	entry := models.CacheEntry{Key: key, Value: success, ExpiresAt: c.now().Add(ttl)}
	data, err := entry.Marshal()
	if err != nil {
		c.log.Warn("encode cache entry", "key", key, "error", err)
		return
	}
	c.async(func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.durable.Set(wctx, responsePrefix+key, data, ttl); err != nil {
			c.log.Warn("durable cache write failed", "key", key, "error", err)
		}
	})
}

// Delete removes key from every tier, including the stale grace map.
func (c *ResponseCache) Delete(ctx context.Context, key string) {
	if key == "" {
		return
	}
	c.mem.Delete(key)
	c.stale.Delete(key)
	if err := c.durable.Delete(ctx, responsePrefix+key); err != nil {
		c.log.Warn("durable cache delete failed", "key", key, "error", err)
	}
}

// Stats returns in-process counters plus the durable entry count when a
// store is configured.
func (c *ResponseCache) Stats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{
		Entries:   int64(c.mem.Len()),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		StaleHits: c.staleHits.Load(),
	}
	if ds, err := c.durable.Stats(ctx); err == nil {
		stats.Entries = ds.Entries
	}
	return stats
}

// Durable returns the durable adapter backing the cache.
func (c *ResponseCache) Durable() *Durable {
	return c.durable
}

func (c *ResponseCache) readDurable(ctx context.Context, key string, stale bool) (models.CacheEntry, bool) {
	var (
		raw []byte
		ok  bool
	)
	if stale {
		raw, ok = c.durable.GetStale(ctx, responsePrefix+key)
	} else {
		raw, ok = c.durable.Get(ctx, responsePrefix+key)
	}
	if !ok {
		return models.CacheEntry{}, false
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log.Warn("decode cache entry", "key", key, "error", err)
		return models.CacheEntry{}, false
	}
	return entry, true
}

// Fingerprint hashes the parts into a stable hex key, optionally truncated
// to n characters (n <= 0 keeps the full digest).
func Fingerprint(n int, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if n > 0 && n < len(sum) {
		return sum[:n]
	}
	return sum
}
