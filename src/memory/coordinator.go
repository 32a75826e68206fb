package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/memstore/src/memory/model"
	"github.com/engramlabs/memstore/src/memory/store"
)

// compensationTimeout bounds the reverse actions run after a failed create,
// independent of the (possibly already expired) caller deadline.
const compensationTimeout = 10 * time.Second

// sagaStep pairs a forward write with the reverse action that undoes it.
type sagaStep struct {
	name       string
	forward    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// Coordinator applies every multi-store write in a fixed order
// (graph, vector, relational) and compensates partially-applied creates. It
// holds no state besides the adapter references and is safe for concurrent
// use; writes to the same id are not serialized here.
type Coordinator struct {
	graph   store.GraphStore
	vector  store.VectorIndex
	records store.RecordStore
	cache   store.Cache
	logger  *log.Logger
}

// NewCoordinator wires the coordinator to its four adapters.
func NewCoordinator(graph store.GraphStore, vector store.VectorIndex, records store.RecordStore, cache store.Cache, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{graph: graph, vector: vector, records: records, cache: cache, logger: logger}
}

// Create validates the memory and writes it to graph, vector and relational
// stores in order. When a later step fails, the already-applied steps are
// undone in reverse order before the wrapped error is returned.
func (c *Coordinator) Create(ctx context.Context, m model.Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemoryStructure, err)
	}
	steps := []sagaStep{
		{
			name:       "graph",
			forward:    func(ctx context.Context) error { return c.graph.CreateNode(ctx, m) },
			compensate: func(ctx context.Context) error { return c.graph.DeleteNode(ctx, m.ID, true) },
		},
	}
	if len(m.Embedding) > 0 {
		steps = append(steps, sagaStep{
			name:       "vector",
			forward:    func(ctx context.Context) error { return c.vector.Upsert(ctx, m) },
			compensate: func(ctx context.Context) error { return c.vector.Delete(ctx, []string{m.ID}) },
		})
	}
	steps = append(steps, sagaStep{
		name:       "relational",
		forward:    func(ctx context.Context) error { return c.records.Insert(ctx, m) },
		compensate: func(ctx context.Context) error { return c.records.Delete(ctx, m.ID) },
	})
	for i, step := range steps {
		if err := step.forward(ctx); err != nil {
			c.compensate(ctx, m.ID, steps[:i])
			return classify(ErrStorageWriteFailed, "create "+m.ID+" ("+step.name+")", err)
		}
	}
	return nil
}

// compensate undoes the given steps in reverse order. Best effort: failures
// are logged, not returned, so the caller still sees the original cause.
func (c *Coordinator) compensate(ctx context.Context, id string, applied []sagaStep) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx); err != nil {
			c.logger.Error("compensation failed", "memory", id, "store", step.name, "err", err)
		}
	}
}

// Update merges the changes into the graph and relational stores, refreshes
// the vector entry (full re-upsert when a new embedding is supplied, payload
// overwrite otherwise so filtered search sees the new type/workspace/metadata)
// and always invalidates the cache entry. A vector failure is surfaced but the
// committed graph/relational update stays in place; there is no rollback on
// updates.
func (c *Coordinator) Update(ctx context.Context, id string, u model.Update) (err error) {
	defer func() {
		if cacheErr := c.cache.Delete(ctx, cacheKey(id)); cacheErr != nil {
			c.logger.Warn("cache invalidation failed", "memory", id, "err", cacheErr)
		}
	}()
	updatedAt := time.Now().UTC()
	if err := c.graph.UpdateNode(ctx, id, u, updatedAt); err != nil {
		return classify(ErrStorageWriteFailed, "update "+id+" (graph)", err)
	}
	if err := c.records.Update(ctx, id, u, updatedAt); err != nil {
		return classify(ErrStorageWriteFailed, "update "+id+" (relational)", err)
	}
	current, err := c.records.Get(ctx, id)
	if err != nil {
		return classify(ErrStorageWriteFailed, "update "+id+" (vector read-back)", err)
	}
	if current == nil {
		return nil
	}
	if len(u.Embedding) > 0 {
		merged := *current
		merged.Embedding = u.Embedding
		if err := c.vector.Upsert(ctx, merged); err != nil {
			return classify(ErrStorageWriteFailed, "update "+id+" (vector)", err)
		}
	} else if err := c.vector.UpdatePayload(ctx, *current); err != nil {
		return classify(ErrStorageWriteFailed, "update "+id+" (vector payload)", err)
	}
	return nil
}

// Delete removes the memory from every backend. cascade detaches incident
// relationships in the graph store first.
func (c *Coordinator) Delete(ctx context.Context, id string, cascade bool) error {
	if err := c.graph.DeleteNode(ctx, id, cascade); err != nil {
		return classify(ErrStorageWriteFailed, "delete "+id+" (graph)", err)
	}
	if err := c.vector.Delete(ctx, []string{id}); err != nil {
		return classify(ErrStorageWriteFailed, "delete "+id+" (vector)", err)
	}
	if err := c.records.Delete(ctx, id); err != nil {
		return classify(ErrStorageWriteFailed, "delete "+id+" (relational)", err)
	}
	if err := c.cache.Delete(ctx, cacheKey(id)); err != nil {
		c.logger.Warn("cache eviction failed", "memory", id, "err", err)
	}
	return nil
}

// CreateBatch validates every memory, then issues exactly one bulk call per
// backend. A failed bulk call aborts the batch; no cross-backend rollback is
// attempted for batches.
func (c *Coordinator) CreateBatch(ctx context.Context, ms []model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidMemoryStructure, m.ID, err)
		}
	}
	if err := c.graph.CreateNodes(ctx, ms); err != nil {
		return classify(ErrBatchStorageFailed, fmt.Sprintf("batch create %d memories (graph)", len(ms)), err)
	}
	if err := c.vector.UpsertBatch(ctx, ms); err != nil {
		return classify(ErrBatchStorageFailed, fmt.Sprintf("batch create %d memories (vector)", len(ms)), err)
	}
	if err := c.records.InsertBatch(ctx, ms); err != nil {
		return classify(ErrBatchStorageFailed, fmt.Sprintf("batch create %d memories (relational)", len(ms)), err)
	}
	return nil
}

func cacheKey(id string) string {
	return "memory:" + id
}
