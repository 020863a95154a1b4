package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is the durable representation of a cached gateway success.
type CacheEntry struct {
	Key       string      `json:"key"`
	Value     CallSuccess `json:"value"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Marshal encodes the entry for a durable store.
func (e CacheEntry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
}
