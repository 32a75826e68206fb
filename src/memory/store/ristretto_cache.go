package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache implements Cache on an in-process ristretto cache with
// per-entry TTL. Entries are expendable copies; admission may drop a Set
// under pressure, which the read path treats as a plain miss.
type RistrettoCache struct {
	cache *ristretto.Cache
}

var _ Cache = (*RistrettoCache)(nil)

// RistrettoConfig sizes the cache. Zero values fall back to defaults good for
// a few hundred thousand memories.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
}

// NewRistrettoCache builds the TTL cache.
func NewRistrettoCache(cfg RistrettoConfig) (*RistrettoCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 1e6
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 256 << 20 // 256 MiB of serialized memories
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{cache: cache}, nil
}

// Get returns the cached value and whether it was present.
func (rc *RistrettoCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := rc.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

// Set stores the value with the given TTL. Ristretto applies writes
// asynchronously; Wait makes the entry visible to an immediately following
// Get, which the cache-aside read path depends on.
func (rc *RistrettoCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rc.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	rc.cache.Wait()
	return nil
}

// Delete evicts the key.
func (rc *RistrettoCache) Delete(_ context.Context, key string) error {
	rc.cache.Del(key)
	return nil
}

// Ping reports the cache as reachable; an in-process cache has no transport
// to probe.
func (rc *RistrettoCache) Ping(context.Context) error {
	return nil
}

// Close stops the cache's internal goroutines.
func (rc *RistrettoCache) Close() error {
	rc.cache.Close()
	return nil
}
