package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/memstore/src/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write
// operations.
type Neo4jAccessMode string

const (
	// AccessModeWrite opens a session with write access.
	AccessModeWrite Neo4jAccessMode = "write"
	// AccessModeRead opens a session with read access.
	AccessModeRead Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of Neo4j session
// configuration we require.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the Neo4j driver capabilities used by the graph
// store, so tests can provide lightweight fakes without the real driver.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jGraphStore persists memory nodes and their typed relationships in
// Neo4j. Relationships use a single RELATED_TO label with the logical type
// kept as a property, so traversals can filter on it with parameters.
type Neo4jGraphStore struct {
	driver   neo4jDriver
	database string
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

// NewNeo4jGraphStore constructs a graph store over the provided driver.
func NewNeo4jGraphStore(driver neo4jDriver, database string) (*Neo4jGraphStore, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jGraphStore{driver: driver, database: database}, nil
}

// EnsureSchema creates the uniqueness constraint and lookup indexes the store
// relies on. Safe to call repeatedly.
func (s *Neo4jGraphStore) EnsureSchema(ctx context.Context) error {
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (m:Memory) ON (m.workspace)",
		"CREATE INDEX IF NOT EXISTS FOR ()-[r:RELATED_TO]-() ON (r.type)",
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

// CreateNode inserts a memory node. The uniqueness constraint makes a
// duplicate id fail at the store.
func (s *Neo4jGraphStore) CreateNode(ctx context.Context, m model.Memory) error {
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jCreateNodeCypher, nodeParams(m))
	if err != nil {
		return fmt.Errorf("neo4j create node %s: %w", m.ID, err)
	}
	return drain(ctx, res)
}

// CreateNodes inserts a batch of nodes with a single UNWIND statement.
func (s *Neo4jGraphStore) CreateNodes(ctx context.Context, ms []model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, nodeParams(m))
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jCreateNodesCypher, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("neo4j bulk create (%d nodes): %w", len(ms), err)
	}
	return drain(ctx, res)
}

// UpdateNode merges the update into an existing node (SET += semantics).
func (s *Neo4jGraphStore) UpdateNode(ctx context.Context, id string, u model.Update, updatedAt time.Time) error {
	props := map[string]any{"updated_at": updatedAt.UTC().Format(time.RFC3339Nano)}
	if u.Type != nil {
		props["type"] = string(*u.Type)
	}
	if u.Content != nil {
		props["content"] = *u.Content
	}
	if u.Metadata != nil {
		props["metadata"] = model.EncodeMetadata(u.Metadata)
	}
	if u.Workspace != nil {
		props["workspace"] = *u.Workspace
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jUpdateNodeCypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return fmt.Errorf("neo4j update node %s: %w", id, err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return err
		}
		return fmt.Errorf("neo4j update node %s: %w", id, ErrNotFound)
	}
	return res.Err()
}

// DeleteNode removes a node. With cascade the incident relationships go with
// it; otherwise Neo4j rejects the delete while relationships remain.
func (s *Neo4jGraphStore) DeleteNode(ctx context.Context, id string, cascade bool) error {
	query := neo4jDeleteNodeCypher
	if cascade {
		query = neo4jDetachDeleteNodeCypher
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("neo4j delete node %s: %w", id, err)
	}
	return drain(ctx, res)
}

// CreateRelationship upserts a typed edge between two existing nodes.
func (s *Neo4jGraphStore) CreateRelationship(ctx context.Context, rel model.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	params := map[string]any{
		"source": rel.SourceID,
		"target": rel.TargetID,
		"type":   rel.Type,
		"props":  sanitizeProps(rel.Properties),
	}
	res, err := session.Run(ctx, neo4jMergeRelationshipCypher, params)
	if err != nil {
		return fmt.Errorf("neo4j merge relationship %s->%s: %w", rel.SourceID, rel.TargetID, err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return err
		}
		// MERGE produced no row: one of the MATCHed endpoints is missing.
		return fmt.Errorf("relationship %s->%s: %w", rel.SourceID, rel.TargetID, ErrNotFound)
	}
	return res.Err()
}

// Traverse returns the memories reachable from id within opts.MaxDepth hops,
// each paired with the relationship type on its shortest path to the origin.
func (s *Neo4jGraphStore) Traverse(ctx context.Context, id string, opts model.TraversalOptions) ([]model.RelatedMemory, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	types := opts.RelationshipTypes
	if types == nil {
		types = []string{}
	}
	session, err := s.readSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	query := fmt.Sprintf(neo4jTraverseCypherTemplate, maxDepth)
	res, err := session.Run(ctx, query, map[string]any{"id": id, "types": types, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j traverse %s: %w", id, err)
	}
	defer res.Close(ctx)
	var related []model.RelatedMemory
	for res.Next(ctx) {
		rec := res.Record()
		if rec == nil {
			continue
		}
		mem := memoryFromNeo4jRecord(rec)
		relType := ""
		if v, ok := rec.Get("relationship_type"); ok {
			relType = model.StringFromAny(v)
		}
		depth := 0
		if v, ok := rec.Get("depth"); ok {
			depth = int(model.Int64FromAny(v))
		}
		related = append(related, model.RelatedMemory{Memory: mem, RelationshipType: relType, Depth: depth})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return related, nil
}

// DetectClusters groups connected memories by their dominant relationship
// type. Derived data only; nothing is written.
func (s *Neo4jGraphStore) DetectClusters(ctx context.Context) ([]model.Cluster, error) {
	session, err := s.readSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jDetectClustersCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j detect clusters: %w", err)
	}
	defer res.Close(ctx)
	var clusters []model.Cluster
	for res.Next(ctx) {
		rec := res.Record()
		if rec == nil {
			continue
		}
		theme := ""
		if v, ok := rec.Get("theme"); ok {
			theme = model.StringFromAny(v)
		}
		var members []string
		if v, ok := rec.Get("members"); ok {
			members = model.StringSliceFromAny(v)
		}
		if theme == "" || len(members) == 0 {
			continue
		}
		clusters = append(clusters, model.Cluster{
			ID:        "cluster_" + theme,
			Theme:     theme,
			MemberIDs: members,
		})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return clusters, nil
}

// NodeCount returns the number of memory nodes.
func (s *Neo4jGraphStore) NodeCount(ctx context.Context) (int64, error) {
	session, err := s.readSession(ctx)
	if err != nil {
		return 0, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, "MATCH (m:Memory) RETURN count(m) AS count", nil)
	if err != nil {
		return 0, fmt.Errorf("neo4j node count: %w", err)
	}
	defer res.Close(ctx)
	if res.Next(ctx) {
		if rec := res.Record(); rec != nil {
			if v, ok := rec.Get("count"); ok {
				return model.Int64FromAny(v), nil
			}
		}
	}
	return 0, res.Err()
}

// Ping verifies driver connectivity.
func (s *Neo4jGraphStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the underlying driver.
func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jGraphStore) writeSession(ctx context.Context) (neo4jSession, error) {
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return nil, fmt.Errorf("neo4j new session: %w", err)
	}
	return session, nil
}

func (s *Neo4jGraphStore) readSession(ctx context.Context) (neo4jSession, error) {
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeRead, DatabaseName: s.database})
	if err != nil {
		return nil, fmt.Errorf("neo4j new session: %w", err)
	}
	return session, nil
}

func drain(ctx context.Context, res neo4jResult) error {
	if res == nil {
		return nil
	}
	for res.Next(ctx) {
	}
	err := res.Err()
	_ = res.Close(ctx)
	return err
}

func nodeParams(m model.Memory) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"type":       string(m.Type),
		"content":    m.Content,
		"workspace":  m.Workspace,
		"metadata":   model.EncodeMetadata(m.Metadata),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// sanitizeProps keeps only property values Neo4j accepts as-is.
func sanitizeProps(props map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range props {
		if strings.TrimSpace(k) == "" {
			continue
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			out[k] = v
		}
	}
	return out
}

func memoryFromNeo4jRecord(rec neo4jRecord) model.Memory {
	var out model.Memory
	if v, ok := rec.Get("id"); ok {
		out.ID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("type"); ok {
		out.Type = model.MemoryType(model.StringFromAny(v))
	}
	if v, ok := rec.Get("content"); ok {
		out.Content = model.StringFromAny(v)
	}
	if v, ok := rec.Get("workspace"); ok {
		out.Workspace = model.StringFromAny(v)
	}
	if v, ok := rec.Get("metadata"); ok {
		out.Metadata = model.DecodeMetadata(model.StringFromAny(v))
	}
	if v, ok := rec.Get("created_at"); ok {
		out.CreatedAt = model.TimeFromAny(v)
	}
	if v, ok := rec.Get("updated_at"); ok {
		out.UpdatedAt = model.TimeFromAny(v)
	}
	return out
}

const (
	neo4jCreateNodeCypher = `
CREATE (m:Memory {id: $id, type: $type, content: $content, workspace: $workspace,
                  metadata: $metadata, created_at: $created_at, updated_at: $updated_at})
`
	neo4jCreateNodesCypher = `
UNWIND $rows AS row
CREATE (m:Memory)
SET m = row
`
	neo4jUpdateNodeCypher = `
MATCH (m:Memory {id: $id})
SET m += $props
RETURN m.id AS id
`
	neo4jDeleteNodeCypher = `
MATCH (m:Memory {id: $id})
DELETE m
`
	neo4jDetachDeleteNodeCypher = `
MATCH (m:Memory {id: $id})
DETACH DELETE m
`
	neo4jMergeRelationshipCypher = `
MATCH (a:Memory {id: $source})
MATCH (b:Memory {id: $target})
MERGE (a)-[r:RELATED_TO {type: $type}]->(b)
SET r += $props
RETURN a.id AS source
`
	// Max depth is inlined by Traverse; variable-length bounds cannot be
	// parameterized.
	neo4jTraverseCypherTemplate = `
MATCH (start:Memory {id: $id})
MATCH path = (start)-[rels:RELATED_TO*1..%d]-(neighbor:Memory)
WHERE neighbor.id <> $id
  AND (size($types) = 0 OR all(rel IN rels WHERE rel.type IN $types))
WITH neighbor, path
ORDER BY length(path) ASC
WITH neighbor, head(collect(path)) AS shortest
RETURN neighbor.id AS id,
       neighbor.type AS type,
       neighbor.content AS content,
       neighbor.workspace AS workspace,
       neighbor.metadata AS metadata,
       neighbor.created_at AS created_at,
       neighbor.updated_at AS updated_at,
       head([rel IN relationships(shortest) | rel.type]) AS relationship_type,
       length(shortest) AS depth
ORDER BY depth ASC
LIMIT $limit
`
	neo4jDetectClustersCypher = `
MATCH (a:Memory)-[r:RELATED_TO]-(b:Memory)
UNWIND [a.id, b.id] AS member
WITH r.type AS theme, collect(DISTINCT member) AS members
WHERE size(members) > 1
RETURN theme, members
ORDER BY size(members) DESC
`
)
