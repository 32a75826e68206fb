package memory

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"

	"github.com/engramlabs/memstore/src/memory/store"
)

// StoreStatus is the health verdict for one backend. A store is degraded
// when it answers pings but fails its read check (count), and down when it
// cannot be reached at all.
type StoreStatus string

const (
	StatusHealthy  StoreStatus = "healthy"
	StatusDegraded StoreStatus = "degraded"
	StatusDown     StoreStatus = "down"
)

var statusRank = map[StoreStatus]int{
	StatusHealthy:  0,
	StatusDegraded: 1,
	StatusDown:     2,
}

// StoreHealth reports one backend's connectivity and probe latency.
type StoreHealth struct {
	Status  StoreStatus   `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthStatus is the unified snapshot across all four backends. Overall is
// healthy only when every store is.
type HealthStatus struct {
	Graph      StoreHealth `json:"graph"`
	Vector     StoreHealth `json:"vector"`
	Relational StoreHealth `json:"relational"`
	Cache      StoreHealth `json:"cache"`
	Overall    StoreStatus `json:"overall"`
}

// StorageMetrics aggregates counts across the backends plus the facade-level
// cache hit rate. A count of -1 marks a store that could not be reached.
type StorageMetrics struct {
	TotalMemories   int64   `json:"total_memories"`
	VectorIndexSize int64   `json:"vector_index_size"`
	GraphNodeCount  int64   `json:"graph_node_count"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
}

// Reporter aggregates per-adapter connectivity and counts. It only reads;
// a failing store degrades its own field instead of failing the report.
type Reporter struct {
	graph   store.GraphStore
	vector  store.VectorIndex
	records store.RecordStore
	cache   store.Cache
	metrics *Metrics
	logger  *log.Logger
	pool    *ants.Pool
}

// NewReporter builds a reporter over the given adapters. The probe pool is
// sized to the number of backends so a full health check is one round of
// concurrent pings.
func NewReporter(graph store.GraphStore, vector store.VectorIndex, records store.RecordStore, cache store.Cache, metrics *Metrics, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	pool, err := ants.NewPool(4)
	if err != nil {
		// ants only rejects non-positive sizes; fall back to the shared pool.
		pool = nil
	}
	return &Reporter{graph: graph, vector: vector, records: records, cache: cache, metrics: metrics, logger: logger, pool: pool}
}

// HealthStatus probes all four adapters concurrently. Overall is healthy
// only when every store is; otherwise it takes the worst per-store verdict.
func (r *Reporter) HealthStatus(ctx context.Context) HealthStatus {
	var status HealthStatus
	countOf := func(count func(context.Context) (int64, error)) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := count(ctx)
			return err
		}
	}
	probes := []struct {
		name  string
		out   *StoreHealth
		ping  func(context.Context) error
		check func(context.Context) error
	}{
		{"graph", &status.Graph, r.graph.Ping, countOf(r.graph.NodeCount)},
		{"vector", &status.Vector, r.vector.Ping, countOf(r.vector.Count)},
		{"relational", &status.Relational, r.records.Ping, countOf(r.records.Count)},
		{"cache", &status.Cache, r.cache.Ping, nil},
	}
	var wg sync.WaitGroup
	for _, probe := range probes {
		probe := probe
		wg.Add(1)
		run := func() {
			defer wg.Done()
			*probe.out = r.probe(ctx, probe.name, probe.ping, probe.check)
		}
		if r.pool != nil {
			if err := r.pool.Submit(run); err == nil {
				continue
			}
		}
		go run()
	}
	wg.Wait()
	status.Overall = StatusHealthy
	for _, h := range []StoreHealth{status.Graph, status.Vector, status.Relational, status.Cache} {
		if statusRank[h.Status] > statusRank[status.Overall] {
			status.Overall = h.Status
		}
	}
	return status
}

// probe pings the store and, when it answers, runs the read check. An
// unreachable store is down; one that answers pings but cannot serve reads
// is degraded.
func (r *Reporter) probe(ctx context.Context, name string, ping, check func(context.Context) error) StoreHealth {
	start := time.Now()
	err := ping(ctx)
	health := StoreHealth{Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		health.Status = StatusDown
		health.Error = err.Error()
		r.logger.Warn("health probe failed", "store", name, "err", err)
		return health
	}
	if check != nil {
		if err := check(ctx); err != nil {
			health.Status = StatusDegraded
			health.Error = err.Error()
			health.Latency = time.Since(start)
			r.logger.Warn("health check degraded", "store", name, "err", err)
		}
	}
	return health
}

// StorageMetrics gathers counts best-effort; unreachable stores report -1.
func (r *Reporter) StorageMetrics(ctx context.Context) StorageMetrics {
	metrics := StorageMetrics{CacheHitRate: r.metrics.HitRate()}
	if total, err := r.records.Count(ctx); err == nil {
		metrics.TotalMemories = total
	} else {
		metrics.TotalMemories = -1
		r.logger.Warn("relational count failed", "err", err)
	}
	if size, err := r.vector.Count(ctx); err == nil {
		metrics.VectorIndexSize = size
	} else {
		metrics.VectorIndexSize = -1
		r.logger.Warn("vector count failed", "err", err)
	}
	if nodes, err := r.graph.NodeCount(ctx); err == nil {
		metrics.GraphNodeCount = nodes
	} else {
		metrics.GraphNodeCount = -1
		r.logger.Warn("graph count failed", "err", err)
	}
	return metrics
}

// Close releases the probe pool.
func (r *Reporter) Close() {
	if r.pool != nil {
		r.pool.Release()
	}
}
