package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/engramlabs/memstore/src/memory/model"
	"github.com/engramlabs/memstore/src/memory/store"
)

// The fakes below mirror the adapter interfaces with call counters and
// injectable failures so coordinator/facade semantics can be verified without
// live backends.

type fakeGraph struct {
	mu    sync.Mutex
	nodes map[string]model.Memory
	rels  []model.Relationship

	createCalls int
	bulkCalls   int
	deleteCalls int

	failCreate   error
	failBulk     error
	failUpdate   error
	failDelete   error
	failTraverse error
	failPing     error

	clusters []model.Cluster
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: map[string]model.Memory{}}
}

func (g *fakeGraph) CreateNode(_ context.Context, m model.Memory) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.failCreate != nil {
		return g.failCreate
	}
	if _, ok := g.nodes[m.ID]; ok {
		return fmt.Errorf("node %s already exists", m.ID)
	}
	g.nodes[m.ID] = m.Clone()
	return nil
}

func (g *fakeGraph) CreateNodes(_ context.Context, ms []model.Memory) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulkCalls++
	if g.failBulk != nil {
		return g.failBulk
	}
	for _, m := range ms {
		g.nodes[m.ID] = m.Clone()
	}
	return nil
}

func (g *fakeGraph) UpdateNode(_ context.Context, id string, u model.Update, updatedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failUpdate != nil {
		return g.failUpdate
	}
	m, ok := g.nodes[id]
	if !ok {
		return store.ErrNotFound
	}
	g.nodes[id] = u.Apply(m, updatedAt)
	return nil
}

func (g *fakeGraph) DeleteNode(_ context.Context, id string, cascade bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if g.failDelete != nil {
		return g.failDelete
	}
	if !cascade {
		for _, rel := range g.rels {
			if rel.SourceID == id || rel.TargetID == id {
				return fmt.Errorf("node %s still has relationships", id)
			}
		}
	}
	delete(g.nodes, id)
	kept := g.rels[:0]
	for _, rel := range g.rels {
		if rel.SourceID != id && rel.TargetID != id {
			kept = append(kept, rel)
		}
	}
	g.rels = kept
	return nil
}

func (g *fakeGraph) CreateRelationship(_ context.Context, rel model.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[rel.SourceID]; !ok {
		return fmt.Errorf("source %s: %w", rel.SourceID, store.ErrNotFound)
	}
	if _, ok := g.nodes[rel.TargetID]; !ok {
		return fmt.Errorf("target %s: %w", rel.TargetID, store.ErrNotFound)
	}
	for i, existing := range g.rels {
		if existing.SourceID == rel.SourceID && existing.TargetID == rel.TargetID && existing.Type == rel.Type {
			g.rels[i] = rel
			return nil
		}
	}
	g.rels = append(g.rels, rel)
	return nil
}

// Traverse runs a breadth-first walk over the fake relationship set so depth
// bounds behave like the real store.
func (g *fakeGraph) Traverse(_ context.Context, id string, opts model.TraversalOptions) ([]model.RelatedMemory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTraverse != nil {
		return nil, g.failTraverse
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}
	allowed := map[string]bool{}
	for _, t := range opts.RelationshipTypes {
		allowed[t] = true
	}
	type hop struct {
		id      string
		relType string
		depth   int
	}
	seen := map[string]bool{id: true}
	frontier := []hop{{id: id}}
	var out []model.RelatedMemory
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []hop
		for _, cur := range frontier {
			for _, rel := range g.rels {
				if len(allowed) > 0 && !allowed[rel.Type] {
					continue
				}
				var neighbor string
				switch cur.id {
				case rel.SourceID:
					neighbor = rel.TargetID
				case rel.TargetID:
					neighbor = rel.SourceID
				default:
					continue
				}
				if seen[neighbor] {
					continue
				}
				seen[neighbor] = true
				relType := rel.Type
				if cur.relType != "" {
					relType = cur.relType
				}
				if m, ok := g.nodes[neighbor]; ok {
					out = append(out, model.RelatedMemory{Memory: m.Clone(), RelationshipType: relType, Depth: depth})
				}
				next = append(next, hop{id: neighbor, relType: relType, depth: depth})
			}
		}
		frontier = next
	}
	return out, nil
}

func (g *fakeGraph) DetectClusters(context.Context) ([]model.Cluster, error) {
	return g.clusters, nil
}

func (g *fakeGraph) NodeCount(context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.nodes)), nil
}

func (g *fakeGraph) Ping(context.Context) error { return g.failPing }

func (g *fakeGraph) Close(context.Context) error { return nil }

type fakeVector struct {
	mu      sync.Mutex
	entries map[string]model.Memory

	upsertCalls  int
	batchCalls   int
	payloadCalls int
	deleteCalls  int

	failUpsert  error
	failBatch   error
	failPayload error
	failSearch  error
	failDelete  error
	failPing    error
	failCount   error
}

func newFakeVector() *fakeVector {
	return &fakeVector{entries: map[string]model.Memory{}}
}

func (v *fakeVector) Upsert(_ context.Context, m model.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.upsertCalls++
	if v.failUpsert != nil {
		return v.failUpsert
	}
	v.entries[m.ID] = m.Clone()
	return nil
}

func (v *fakeVector) UpsertBatch(_ context.Context, ms []model.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.batchCalls++
	if v.failBatch != nil {
		return v.failBatch
	}
	for _, m := range ms {
		v.entries[m.ID] = m.Clone()
	}
	return nil
}

// UpdatePayload overwrites the stored filter fields but keeps the indexed
// vector, mirroring a payload-only write.
func (v *fakeVector) UpdatePayload(_ context.Context, m model.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.payloadCalls++
	if v.failPayload != nil {
		return v.failPayload
	}
	existing, ok := v.entries[m.ID]
	if !ok {
		return nil
	}
	updated := m.Clone()
	updated.Embedding = existing.Embedding
	v.entries[m.ID] = updated
	return nil
}

func (v *fakeVector) Search(_ context.Context, _ []float32, opts model.SearchOptions) ([]model.ScoredMemory, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failSearch != nil {
		return nil, 0, v.failSearch
	}
	var hits []model.ScoredMemory
	for _, m := range v.entries {
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if opts.Workspace != "" && m.Workspace != opts.Workspace {
			continue
		}
		hits = append(hits, model.ScoredMemory{Memory: m.Clone(), Score: 1})
	}
	return hits, len(hits), nil
}

func (v *fakeVector) Delete(_ context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleteCalls++
	if v.failDelete != nil {
		return v.failDelete
	}
	for _, id := range ids {
		delete(v.entries, id)
	}
	return nil
}

func (v *fakeVector) Count(context.Context) (int64, error) {
	if v.failCount != nil {
		return 0, v.failCount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(len(v.entries)), nil
}

func (v *fakeVector) Ping(context.Context) error { return v.failPing }

func (v *fakeVector) Close(context.Context) error { return nil }

type fakeRecords struct {
	mu   sync.Mutex
	rows map[string]model.Memory

	insertCalls int
	batchCalls  int
	getCalls    int

	failInsert error
	failBatch  error
	failUpdate error
	failGet    error
	failPing   error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: map[string]model.Memory{}}
}

func (r *fakeRecords) Insert(_ context.Context, m model.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++
	if r.failInsert != nil {
		return r.failInsert
	}
	if _, ok := r.rows[m.ID]; ok {
		return fmt.Errorf("row %s already exists", m.ID)
	}
	r.rows[m.ID] = m.Clone()
	return nil
}

func (r *fakeRecords) InsertBatch(_ context.Context, ms []model.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchCalls++
	if r.failBatch != nil {
		return r.failBatch
	}
	for _, m := range ms {
		r.rows[m.ID] = m.Clone()
	}
	return nil
}

func (r *fakeRecords) Update(_ context.Context, id string, u model.Update, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate != nil {
		return r.failUpdate
	}
	m, ok := r.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	r.rows[id] = u.Apply(m, updatedAt)
	return nil
}

func (r *fakeRecords) Get(_ context.Context, id string) (*model.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.failGet != nil {
		return nil, r.failGet
	}
	m, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	out := m.Clone()
	return &out, nil
}

func (r *fakeRecords) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *fakeRecords) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

func (r *fakeRecords) Ping(context.Context) error { return r.failPing }

func (r *fakeRecords) Close(context.Context) error { return nil }

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte

	getCalls    int
	setCalls    int
	deleteCalls int

	failPing error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls++
	c.entries[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return c.failPing }

func (c *fakeCache) Close() error { return nil }

type stores struct {
	graph   *fakeGraph
	vector  *fakeVector
	records *fakeRecords
	cache   *fakeCache
}

func newStores() stores {
	return stores{
		graph:   newFakeGraph(),
		vector:  newFakeVector(),
		records: newFakeRecords(),
		cache:   newFakeCache(),
	}
}

func (s stores) storage(opts ...StorageOption) *Storage {
	return NewStorage(s.graph, s.vector, s.records, s.cache, opts...)
}

func (s stores) coordinator() *Coordinator {
	return NewCoordinator(s.graph, s.vector, s.records, s.cache, nil)
}
