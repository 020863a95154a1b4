package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/northwind-energy/aigateway/pkg/models"
)

// ErrNotConfigured is returned by operations that need a durable store when
// none is configured.
var ErrNotConfigured = errors.New("durable cache not configured")

// Store is a durable key/value store with per-entry TTL.
type Store interface {
	// Get returns the value for key if it exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetStale returns the value for key regardless of expiry.
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Stats returns entry count and hit/miss counters.
	Stats(ctx context.Context) (models.CacheStats, error)
	// Clear removes entries; expiredOnly limits it to expired entries.
	Clear(ctx context.Context, expiredOnly bool) error
	// Close releases resources.
	Close() error
}

// Durable wraps an optional Store. When no store is configured every
// operation is a silent no-op, so callers never branch on deployment shape.
type Durable struct {
	store Store
	log   *slog.Logger
}

// NewDurable wraps store. A nil store yields an unconfigured adapter.
func NewDurable(store Store, log *slog.Logger) *Durable {
	if log == nil {
		log = slog.Default()
	}
	return &Durable{store: store, log: log.With("component", "durable_cache")}
}

// Configured reports whether a durable store is present.
func (d *Durable) Configured() bool {
	return d != nil && d.store != nil
}

// Get returns an unexpired value. Store errors are logged and treated as a miss.
func (d *Durable) Get(ctx context.Context, key string) ([]byte, bool) {
	if !d.Configured() {
		return nil, false
	}
	v, ok, err := d.store.Get(ctx, key)
	if err != nil {
		d.log.Warn("durable get failed", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}

// GetStale returns a value even if its TTL has passed.
func (d *Durable) GetStale(ctx context.Context, key string) ([]byte, bool) {
	if !d.Configured() {
		return nil, false
	}
	v, ok, err := d.store.GetStale(ctx, key)
	if err != nil {
		d.log.Warn("durable stale get failed", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}

// Set writes value with ttl. It is a no-op when unconfigured or ttl <= 0.
func (d *Durable) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !d.Configured() || ttl <= 0 {
		return nil
	}
	return d.store.Set(ctx, key, value, ttl)
}

// Delete removes key. It is a no-op when unconfigured.
func (d *Durable) Delete(ctx context.Context, key string) error {
	if !d.Configured() {
		return nil
	}
	return d.store.Delete(ctx, key)
}

// GetJSON decodes an unexpired JSON value into dst.
func (d *Durable) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := d.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		d.log.Warn("durable value decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON encodes v as JSON and writes it with ttl.
func (d *Durable) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !d.Configured() || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, key, raw, ttl)
}

// Stats proxies the store statistics.
func (d *Durable) Stats(ctx context.Context) (models.CacheStats, error) {
	if !d.Configured() {
		return models.CacheStats{}, ErrNotConfigured
	}
	return d.store.Stats(ctx)
}

// Clear proxies to the store.
func (d *Durable) Clear(ctx context.Context, expiredOnly bool) error {
	if !d.Configured() {
		return ErrNotConfigured
	}
	return d.store.Clear(ctx, expiredOnly)
}

// Close releases the underlying store.
func (d *Durable) Close() error {
	if !d.Configured() {
		return nil
	}
	return d.store.Close()
}
