// Package serials resolves serial numbers through a Redis read-through cache
// in front of the ERP client.
package serials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warelink-erp/warelink/internal/erp"
)

// CacheEntry is the cached resolution for one serial number. Entries expire
// with the store TTL, which implements the freshness window: an expired entry
// is treated as absent and refreshed remotely.
type CacheEntry struct {
	Resolved erp.ResolvedSerial `json:"resolved"`
	CachedAt time.Time          `json:"cached_at"`
}

// Store persists cache entries in Redis keyed by serial number.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store. ttl is the freshness window.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Get returns the cached entry for a serial, or ok=false when absent or
// stale.
func (s *Store) Get(ctx context.Context, serial string) (CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.key(serial)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, fmt.Errorf("serials: cache get: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("serials: decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Upsert overwrites resolved attributes and refreshes the timestamp.
func (s *Store) Upsert(ctx context.Context, resolved erp.ResolvedSerial) error {
	entry := CacheEntry{Resolved: resolved, CachedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serials: encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(resolved.Serial), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("serials: cache set: %w", err)
	}
	return nil
}

// TTL exposes the freshness window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) key(serial string) string {
	return "serial_lookup:" + serial
}
