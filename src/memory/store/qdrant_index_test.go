package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/engramlabs/memstore/src/memory/model"
)

type capturedRequest struct {
	method string
	path   string
	body   map[string]any
}

func newQdrantTestServer(t *testing.T, respond func(r capturedRequest) (int, any)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		req := capturedRequest{method: r.Method, path: r.URL.Path, body: body}
		captured = append(captured, req)
		status, payload := respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func okEnvelope(result any) map[string]any {
	return map[string]any{"status": "ok", "time": 0.01, "result": result}
}

func TestUpsertBatchIsASingleCall(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope(nil)
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	ms := make([]model.Memory, 10)
	for i := range ms {
		ms[i] = model.Memory{ID: "mem_" + string(rune('a'+i)), Type: model.TypeSystem1, Content: "c", Embedding: []float32{1, 2, 3}}
	}
	if err := qi.UpsertBatch(context.Background(), ms); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if len(*captured) != 1 {
		t.Fatalf("batch upsert must be one HTTP call, got %d", len(*captured))
	}
	points := (*captured)[0].body["points"].([]any)
	if len(points) != 10 {
		t.Fatalf("expected 10 points in one call, got %d", len(points))
	}
	first := points[0].(map[string]any)
	payload := first["payload"].(map[string]any)
	if payload["memory_id"] != "mem_a" {
		t.Fatalf("payload must carry the original id, got %v", payload["memory_id"])
	}
	if id := first["id"].(string); len(id) != 36 {
		t.Fatalf("point id must be a UUID, got %q", id)
	}
}

func TestUpsertRejectsWrongDimensionLocally(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope(nil)
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 4)

	err := qi.Upsert(context.Background(), model.Memory{ID: "m", Embedding: []float32{1, 2}})
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("expected dimension error, got %v", err)
	}
	if len(*captured) != 0 {
		t.Fatalf("dimension mismatch must fail before any HTTP call")
	}
}

func TestSearchTranslatesFilters(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope([]map[string]any{{
			"id":    "11111111-2222-3333-4444-555555555555",
			"score": 0.93,
			"payload": map[string]any{
				"memory_id": "mem_hit", "type": "system1", "content": "found",
				"workspace": "ws-1", "metadata": map[string]any{"lang": "go"},
				"created_at": "2026-02-01T10:00:00Z", "updated_at": "2026-02-01T10:00:00Z",
			},
			"vector": []float32{1, 2, 3},
		}})
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	hits, total, err := qi.Search(context.Background(), []float32{1, 2, 3}, model.SearchOptions{
		Type:      model.TypeSystem1,
		Workspace: "ws-1",
		Metadata:  map[string]any{"lang": "go"},
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || len(hits) != 1 {
		t.Fatalf("expected one hit, got %d/%d", len(hits), total)
	}
	if hits[0].Memory.ID != "mem_hit" || hits[0].Score != 0.93 {
		t.Fatalf("bad hit mapping: %+v", hits[0])
	}
	if hits[0].Memory.Metadata["lang"] != "go" {
		t.Fatalf("metadata lost in mapping: %+v", hits[0].Memory)
	}

	body := (*captured)[0].body
	filter, ok := body["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected a filter in the request, got %v", body)
	}
	must := filter["must"].([]any)
	if len(must) != 3 {
		t.Fatalf("expected 3 must clauses (type, workspace, metadata), got %d", len(must))
	}
	keys := map[string]bool{}
	for _, clause := range must {
		keys[clause.(map[string]any)["key"].(string)] = true
	}
	for _, want := range []string{"type", "workspace", "metadata.lang"} {
		if !keys[want] {
			t.Fatalf("missing filter key %s in %v", want, keys)
		}
	}
}

func TestSearchWithoutFiltersOmitsFilter(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope([]map[string]any{})
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	_, _, err := qi.Search(context.Background(), []float32{1, 2, 3}, model.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := (*captured)[0].body["filter"]; ok {
		t.Fatalf("no filters requested, none should be sent")
	}
}

func TestSearchSurfacesHTTPErrors(t *testing.T) {
	server, _ := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusServiceUnavailable, map[string]any{"status": map[string]any{"error": "overloaded"}}
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	_, _, err := qi.Search(context.Background(), []float32{1, 2, 3}, model.SearchOptions{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected http error surfaced, got %v", err)
	}
}

func TestDeleteDerivesSamePointIDs(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope(nil)
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	if err := qi.Upsert(context.Background(), model.Memory{ID: "mem_x", Embedding: []float32{1, 2, 3}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := qi.Delete(context.Background(), []string{"mem_x"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	upserted := (*captured)[0].body["points"].([]any)[0].(map[string]any)["id"].(string)
	deleted := (*captured)[1].body["points"].([]any)[0].(string)
	if upserted != deleted {
		t.Fatalf("delete must target the same derived point id: %s vs %s", upserted, deleted)
	}
}

func TestUpdatePayloadOverwritesWithoutVector(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope(nil)
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	m := model.Memory{ID: "mem_x", Type: model.TypeSystem1, Content: "c", Workspace: "ws-old", Embedding: []float32{1, 2, 3}}
	if err := qi.Upsert(context.Background(), m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	m.Workspace = "ws-new"
	m.Embedding = nil
	if err := qi.UpdatePayload(context.Background(), m); err != nil {
		t.Fatalf("UpdatePayload: %v", err)
	}

	req := (*captured)[1]
	if req.method != http.MethodPut || !strings.HasSuffix(req.path, "/points/payload") {
		t.Fatalf("payload update must PUT (overwrite) to /points/payload, got %s %s", req.method, req.path)
	}
	upserted := (*captured)[0].body["points"].([]any)[0].(map[string]any)["id"].(string)
	target := req.body["points"].([]any)[0].(string)
	if upserted != target {
		t.Fatalf("payload update must target the same derived point id: %s vs %s", upserted, target)
	}
	payload := req.body["payload"].(map[string]any)
	if payload["workspace"] != "ws-new" {
		t.Fatalf("payload must carry the new workspace, got %v", payload["workspace"])
	}
	if _, ok := req.body["vector"]; ok {
		t.Fatalf("payload update must not send a vector")
	}
}

func TestCountUsesExact(t *testing.T) {
	server, captured := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusOK, okEnvelope(map[string]any{"count": 17})
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	count, err := qi.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 17 {
		t.Fatalf("expected 17, got %d", count)
	}
	if exact, _ := (*captured)[0].body["exact"].(bool); !exact {
		t.Fatalf("count must request an exact total")
	}
}

func TestEnsureCollectionToleratesExisting(t *testing.T) {
	server, _ := newQdrantTestServer(t, func(capturedRequest) (int, any) {
		return http.StatusConflict, map[string]any{"status": map[string]any{"error": "collection `memories` already exists"}}
	})
	qi := NewQdrantIndex(server.URL, "memories", "", 3)

	if err := qi.EnsureCollection(context.Background(), DistanceCosine); err != nil {
		t.Fatalf("existing collection must not be an error, got %v", err)
	}
}
