package memory

import "sync/atomic"

// Metrics captures facade-level cache counters for observability.
type Metrics struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

func (m *Metrics) IncCacheHit()  { m.cacheHits.Add(1) }
func (m *Metrics) IncCacheMiss() { m.cacheMisses.Add(1) }

// HitRate returns the cache hit ratio in [0,1]; 0 before any read.
func (m *Metrics) HitRate() float64 {
	if m == nil {
		return 0
	}
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// MetricsSnapshot holds the current counter values for reporting.
type MetricsSnapshot struct {
	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	HitRate     float64 `json:"hit_rate"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		CacheHits:   m.cacheHits.Load(),
		CacheMisses: m.cacheMisses.Load(),
		HitRate:     m.HitRate(),
	}
}
