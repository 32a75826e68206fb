package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramlabs/memstore/src/memory/model"
)

// Distance selects the similarity metric of a Qdrant collection.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type qdrantCountResult struct {
	Count int64 `json:"count"`
}

// QdrantIndex implements VectorIndex over Qdrant's REST API. Points are keyed
// by a UUID derived deterministically from the memory id, with the original
// id kept in the payload.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex creates a Qdrant-backed VectorIndex. dimension is the
// expected embedding length; upserts with a different length are rejected
// locally.
func NewQdrantIndex(baseURL, collection, apiKey string, dimension int) *QdrantIndex {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dimension:  dimension,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureCollection creates the collection when absent; an existing collection
// is not an error.
func (qi *QdrantIndex) EnsureCollection(ctx context.Context, distance Distance) error {
	if qi.collection == "" {
		return errors.New("qdrant collection is empty")
	}
	if distance == "" {
		distance = DistanceCosine
	}
	req := map[string]any{
		"vectors": map[string]any{"size": qi.dimension, "distance": string(distance)},
	}
	var resp qdrantEnvelope[json.RawMessage]
	err := qi.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", url.PathEscape(qi.collection)), req, &resp)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return err
	}
	return nil
}

// Upsert writes a single point keyed by the memory id.
func (qi *QdrantIndex) Upsert(ctx context.Context, m model.Memory) error {
	return qi.UpsertBatch(ctx, []model.Memory{m})
}

// UpsertBatch writes all points in one call.
func (qi *QdrantIndex) UpsertBatch(ctx context.Context, ms []model.Memory) error {
	if qi.collection == "" {
		return errors.New("qdrant collection is empty")
	}
	if len(ms) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(ms))
	for _, m := range ms {
		if len(m.Embedding) == 0 {
			continue
		}
		if qi.dimension > 0 && len(m.Embedding) != qi.dimension {
			return fmt.Errorf("embedding for %s has %d dimensions, collection expects %d", m.ID, len(m.Embedding), qi.dimension)
		}
		points = append(points, qdrantPoint{
			ID:      qdrantPointID(m.ID),
			Vector:  m.Embedding,
			Payload: vectorPayload(m),
		})
	}
	if len(points) == 0 {
		return nil
	}
	req := map[string]any{"points": points}
	var resp qdrantEnvelope[json.RawMessage]
	if err := qi.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(qi.collection)), req, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

// UpdatePayload overwrites the point's payload in place so filtered searches
// see the memory's current type, workspace and metadata. The vector is not
// touched; overwrite (not merge) semantics drop stale metadata keys.
func (qi *QdrantIndex) UpdatePayload(ctx context.Context, m model.Memory) error {
	if qi.collection == "" {
		return errors.New("qdrant collection is empty")
	}
	req := map[string]any{
		"points":  []string{qdrantPointID(m.ID)},
		"payload": vectorPayload(m),
	}
	var resp qdrantEnvelope[json.RawMessage]
	if err := qi.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points/payload?wait=true", url.PathEscape(qi.collection)), req, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

// Search performs a similarity query, translating the structured filters into
// Qdrant's native filter syntax.
func (qi *QdrantIndex) Search(ctx context.Context, embedding []float32, opts model.SearchOptions) ([]model.ScoredMemory, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter := qdrantFilter(opts); filter != nil {
		req["filter"] = filter
	}
	var resp qdrantEnvelope[[]qdrantHit]
	if err := qi.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", url.PathEscape(qi.collection)), req, &resp); err != nil {
		return nil, 0, err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return nil, 0, errors.New(resp.Status.Error)
	}
	hits := make([]model.ScoredMemory, 0, len(resp.Result))
	for _, hit := range resp.Result {
		hits = append(hits, model.ScoredMemory{
			Memory: memoryFromPayload(hit.Payload, hit.Vector),
			Score:  hit.Score,
		})
	}
	return hits, len(hits), nil
}

// Delete removes the points for the given memory ids in a single call.
func (qi *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		points = append(points, qdrantPointID(id))
	}
	req := map[string]any{"points": points}
	return qi.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(qi.collection)), req, nil)
}

// Count returns the exact number of indexed points.
func (qi *QdrantIndex) Count(ctx context.Context) (int64, error) {
	req := map[string]any{"exact": true}
	var resp qdrantEnvelope[qdrantCountResult]
	if err := qi.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", url.PathEscape(qi.collection)), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Ping checks that the collection is reachable.
func (qi *QdrantIndex) Ping(ctx context.Context) error {
	return qi.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", url.PathEscape(qi.collection)), nil, nil)
}

// Close releases idle connections.
func (qi *QdrantIndex) Close(context.Context) error {
	qi.client.CloseIdleConnections()
	return nil
}

func (qi *QdrantIndex) do(ctx context.Context, method, path string, body any, out any) error {
	u := qi.baseURL + path
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qi.apiKey != "" {
		req.Header.Set("api-key", qi.apiKey)
	}
	resp, err := qi.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s -> http %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}

// qdrantPointID derives a stable UUID from a memory id, since Qdrant only
// accepts integer or UUID point ids.
func qdrantPointID(memoryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
}

func vectorPayload(m model.Memory) map[string]any {
	payload := map[string]any{
		"memory_id":  m.ID,
		"type":       string(m.Type),
		"content":    m.Content,
		"workspace":  m.Workspace,
		"metadata":   model.CloneMetadata(m.Metadata),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return payload
}

func memoryFromPayload(payload map[string]any, vector []float32) model.Memory {
	if payload == nil {
		payload = map[string]any{}
	}
	meta, _ := payload["metadata"].(map[string]any)
	return model.Memory{
		ID:        model.StringFromAny(payload["memory_id"]),
		Type:      model.MemoryType(model.StringFromAny(payload["type"])),
		Content:   model.StringFromAny(payload["content"]),
		Embedding: append([]float32(nil), vector...),
		Metadata:  meta,
		Workspace: model.StringFromAny(payload["workspace"]),
		CreatedAt: model.TimeFromAny(payload["created_at"]),
		UpdatedAt: model.TimeFromAny(payload["updated_at"]),
	}
}

func qdrantFilter(opts model.SearchOptions) map[string]any {
	var must []map[string]any
	if opts.Type != "" {
		must = append(must, matchClause("type", string(opts.Type)))
	}
	if opts.Workspace != "" {
		must = append(must, matchClause("workspace", opts.Workspace))
	}
	for key, value := range opts.Metadata {
		must = append(must, matchClause("metadata."+key, value))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchClause(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}
