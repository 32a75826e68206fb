// Package store contains the capability-narrow adapters for the four
// physical backends: graph, vector, relational and cache. Adapters perform no
// cross-store orchestration; every call is a single-store operation that
// either succeeds or fails with a store-specific error for the coordinator to
// classify.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/engramlabs/memstore/src/memory/model"
)

// ErrNotFound is returned by adapters when an operation targets an id that is
// absent from the underlying store. Simple lookups do not use it; a missing
// record on Get is reported as (nil, nil).
var ErrNotFound = errors.New("store: not found")

// GraphStore persists memory nodes and their typed relationships.
type GraphStore interface {
	CreateNode(ctx context.Context, m model.Memory) error
	CreateNodes(ctx context.Context, ms []model.Memory) error
	UpdateNode(ctx context.Context, id string, u model.Update, updatedAt time.Time) error
	// DeleteNode removes a node. With cascade it detaches incident
	// relationships first; without, deletion fails while relationships
	// remain.
	DeleteNode(ctx context.Context, id string, cascade bool) error
	// CreateRelationship upserts a typed edge (MERGE semantics). It fails
	// with ErrNotFound when either endpoint is absent.
	CreateRelationship(ctx context.Context, rel model.Relationship) error
	Traverse(ctx context.Context, id string, opts model.TraversalOptions) ([]model.RelatedMemory, error)
	DetectClusters(ctx context.Context) ([]model.Cluster, error)
	NodeCount(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// VectorIndex persists the embedding-to-id mapping and answers similarity
// queries.
type VectorIndex interface {
	Upsert(ctx context.Context, m model.Memory) error
	UpsertBatch(ctx context.Context, ms []model.Memory) error
	// UpdatePayload overwrites the stored filter payload (type, workspace,
	// metadata, content) for an existing point without touching its
	// vector. A point that was never indexed is left alone.
	UpdatePayload(ctx context.Context, m model.Memory) error
	Search(ctx context.Context, embedding []float32, opts model.SearchOptions) ([]model.ScoredMemory, int, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RecordStore is the durable system of record for memory existence and core
// fields.
type RecordStore interface {
	Insert(ctx context.Context, m model.Memory) error
	InsertBatch(ctx context.Context, ms []model.Memory) error
	Update(ctx context.Context, id string, u model.Update, updatedAt time.Time) error
	// Get returns (nil, nil) when the id is absent; retrieval misses are
	// not failures.
	Get(ctx context.Context, id string) (*model.Memory, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Cache is a key-value store with per-entry TTL. It owns no state: every
// entry is an expendable copy of what the durable stores hold.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
