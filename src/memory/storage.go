package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/engramlabs/memstore/src/memory/embed"
	"github.com/engramlabs/memstore/src/memory/model"
	"github.com/engramlabs/memstore/src/memory/store"
)

// DefaultCacheTTL bounds how long a cached memory may outlive a write that
// raced past its invalidation.
const DefaultCacheTTL = 3600 * time.Second

// Storage is the single public entry point of the storage layer. Callers
// must not reach past it to the adapters. Reads follow a cache-aside policy;
// writes flow through the Coordinator.
type Storage struct {
	coord   *Coordinator
	graph   store.GraphStore
	vector  store.VectorIndex
	records store.RecordStore
	cache   store.Cache

	embedder embed.Embedder
	cacheTTL time.Duration
	logger   *log.Logger
	nowFn    func() time.Time

	metrics  Metrics
	reporter *Reporter
}

// StorageOption customizes a Storage.
type StorageOption func(*Storage)

// WithEmbedder injects the text-embedding function used by SearchMemories.
func WithEmbedder(e embed.Embedder) StorageOption {
	return func(s *Storage) { s.embedder = e }
}

// WithCacheTTL overrides the read-through cache TTL.
func WithCacheTTL(ttl time.Duration) StorageOption {
	return func(s *Storage) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLogger overrides the logger used on best-effort paths.
func WithLogger(logger *log.Logger) StorageOption {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage composes the facade from its four adapters. Dependencies are
// explicit; there is no ambient global state.
func NewStorage(graph store.GraphStore, vector store.VectorIndex, records store.RecordStore, cache store.Cache, opts ...StorageOption) *Storage {
	s := &Storage{
		graph:    graph,
		vector:   vector,
		records:  records,
		cache:    cache,
		cacheTTL: DefaultCacheTTL,
		logger:   log.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coord = NewCoordinator(graph, vector, records, cache, s.logger)
	s.reporter = NewReporter(graph, vector, records, cache, &s.metrics, s.logger)
	return s
}

// StoreMemory persists a new memory across all backends and returns it with
// generated id and timestamps filled in.
func (s *Storage) StoreMemory(ctx context.Context, m model.Memory) (*model.Memory, error) {
	stored := s.prepare(m)
	if err := s.coord.Create(ctx, stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// RetrieveMemory reads a memory, cache first. A miss against every store is
// (nil, nil): retrieving a nonexistent id is not a failure.
func (s *Storage) RetrieveMemory(ctx context.Context, id string) (*model.Memory, error) {
	if raw, ok, err := s.cache.Get(ctx, cacheKey(id)); err == nil && ok {
		var m model.Memory
		if err := json.Unmarshal(raw, &m); err == nil {
			s.metrics.IncCacheHit()
			return &m, nil
		}
		// Unreadable entry: fall through to the durable store.
		if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
			s.logger.Warn("dropping corrupt cache entry failed", "memory", id, "err", err)
		}
	} else if err != nil {
		s.logger.Warn("cache read failed", "memory", id, "err", err)
	}
	s.metrics.IncCacheMiss()
	m, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, classifyRead("retrieve memory "+id, err)
	}
	if m == nil {
		return nil, nil
	}
	if raw, err := json.Marshal(m); err == nil {
		if err := s.cache.Set(ctx, cacheKey(id), raw, s.cacheTTL); err != nil {
			s.logger.Warn("cache population failed", "memory", id, "err", err)
		}
	}
	return m, nil
}

// SearchMemories embeds the query text and runs a similarity search with the
// structured filters applied. A vector failure is raised, never degraded to
// empty results.
func (s *Storage) SearchMemories(ctx context.Context, query string, opts model.SearchOptions) (*model.SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrSearchOperationFailed)
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, classify(ErrSearchOperationFailed, "embed query", err)
	}
	hits, total, err := s.vector.Search(ctx, embedding, opts)
	if err != nil {
		return nil, classify(ErrSearchOperationFailed, "vector search", err)
	}
	return &model.SearchResult{Memories: hits, Total: total}, nil
}

// UpdateMemory merges updates into the durable stores, invalidates the cache
// and returns the fresh record.
func (s *Storage) UpdateMemory(ctx context.Context, id string, u model.Update) (*model.Memory, error) {
	if err := s.coord.Update(ctx, id, u); err != nil {
		return nil, err
	}
	m, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, classifyRead("read back updated memory "+id, err)
	}
	return m, nil
}

// DeleteMemory removes the memory from every backend. cascade also removes
// incident relationships. The returned flag never reports partial success.
func (s *Storage) DeleteMemory(ctx context.Context, id string, cascade bool) (bool, error) {
	if err := s.coord.Delete(ctx, id, cascade); err != nil {
		return false, err
	}
	return true, nil
}

// GetRelatedMemories traverses the graph out to opts.MaxDepth, filtered by
// relationship type, returning each connected memory with the relationship
// type linking it to the origin.
func (s *Storage) GetRelatedMemories(ctx context.Context, id string, opts model.TraversalOptions) ([]model.RelatedMemory, error) {
	related, err := s.graph.Traverse(ctx, id, opts)
	if err != nil {
		return nil, classifyRead("related memories of "+id, err)
	}
	return related, nil
}

// CreateRelationship upserts a typed edge between two existing memories. A
// missing endpoint fails with ErrNotFound.
func (s *Storage) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]any) error {
	rel := model.Relationship{SourceID: sourceID, TargetID: targetID, Type: relType, Properties: properties}
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemoryStructure, err)
	}
	if err := s.graph.CreateRelationship(ctx, rel); err != nil {
		return classify(ErrStorageWriteFailed, fmt.Sprintf("relationship %s-[%s]->%s", sourceID, relType, targetID), err)
	}
	return nil
}

// DetectMemoryClusters runs the graph grouping query and returns the derived
// clusters. Read-only; nothing is persisted.
func (s *Storage) DetectMemoryClusters(ctx context.Context) ([]model.Cluster, error) {
	clusters, err := s.graph.DetectClusters(ctx)
	if err != nil {
		return nil, classifyRead("detect memory clusters", err)
	}
	return clusters, nil
}

// BatchStoreMemories persists the batch with one bulk call per backend and
// returns the stored memories with generated fields filled in.
func (s *Storage) BatchStoreMemories(ctx context.Context, ms []model.Memory) ([]model.Memory, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	stored := make([]model.Memory, 0, len(ms))
	for _, m := range ms {
		stored = append(stored, s.prepare(m))
	}
	if err := s.coord.CreateBatch(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Reporter returns the health/metrics reporter bound to this storage's
// adapters and cache counters. The same instance is returned on every call;
// it lives until Close.
func (s *Storage) Reporter() *Reporter {
	return s.reporter
}

// MetricsSnapshot exposes the facade-level counters.
func (s *Storage) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Close releases the reporter's probe pool and every adapter.
func (s *Storage) Close(ctx context.Context) error {
	s.reporter.Close()
	return errors.Join(
		s.graph.Close(ctx),
		s.vector.Close(ctx),
		s.records.Close(ctx),
		s.cache.Close(),
	)
}

// prepare fills generated fields on a copy of m.
func (s *Storage) prepare(m model.Memory) model.Memory {
	out := m.Clone()
	if out.ID == "" {
		out.ID = "mem_" + uuid.NewString()
	}
	now := s.nowFn().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}

// classifyRead wraps read-path errors: deadline overruns become
// ErrStorageTimeout, anything else ErrStorageReadFailed, so raw store errors
// never escape the facade on reads either.
func classifyRead(op string, err error) error {
	return classify(ErrStorageReadFailed, op, err)
}
