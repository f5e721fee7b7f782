package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeQdrant 维护内存集合状态的 Qdrant 假服务
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
}

type fakeCollection struct {
	dim    int
	points map[string]*Point
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string]*fakeCollection)}
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "collections" {
			http.NotFound(w, r)
			return
		}
		name := parts[1]
		col := f.collections[name]

		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			if col == nil {
				writeQdrantError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", name))
				return
			}
			fmt.Fprintf(w, `{"status":"ok","result":{"points_count":%d,"config":{"params":{"vectors":{"size":%d}}}}}`,
				len(col.points), col.dim)

		case len(parts) == 2 && r.Method == http.MethodPut:
			var req createCollectionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.collections[name] = &fakeCollection{dim: req.Vectors.Size, points: make(map[string]*Point)}
			fmt.Fprint(w, `{"status":"ok","result":true}`)

		case len(parts) == 2 && r.Method == http.MethodDelete:
			if col == nil {
				writeQdrantError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", name))
				return
			}
			delete(f.collections, name)
			fmt.Fprint(w, `{"status":"ok","result":true}`)

		case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
			if col == nil {
				writeQdrantError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", name))
				return
			}
			var req upsertPointsRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			for _, p := range req.Points {
				if len(p.Vector) != col.dim {
					writeQdrantError(w, http.StatusBadRequest,
						fmt.Sprintf("Wrong input: Vector inserting error: expected dim: %d, got %d", col.dim, len(p.Vector)))
					return
				}
				col.points[p.ID] = p
			}
			fmt.Fprint(w, `{"status":"ok","result":{"operation_id":0,"status":"completed"}}`)

		case len(parts) == 4 && parts[3] == "search":
			if col == nil {
				writeQdrantError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", name))
				return
			}
			var req searchRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if len(req.Vector) != col.dim {
				writeQdrantError(w, http.StatusBadRequest,
					fmt.Sprintf("Wrong input: Vector dimension error: expected dim: %d, got %d", col.dim, len(req.Vector)))
				return
			}
			entries := make([]searchResultEntry, 0, len(col.points))
			for id, p := range col.points {
				var score float64
				for i := range req.Vector {
					score += float64(req.Vector[i]) * float64(p.Vector[i])
				}
				entries = append(entries, searchResultEntry{ID: id, Score: score, Payload: p.Payload})
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
			if len(entries) > req.Limit {
				entries = entries[:req.Limit]
			}
			resp, _ := json.Marshal(map[string]any{"status": "ok", "result": entries})
			_, _ = w.Write(resp)

		case len(parts) == 4 && parts[3] == "count":
			if col == nil {
				writeQdrantError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", name))
				return
			}
			fmt.Fprintf(w, `{"status":"ok","result":{"count":%d}}`, len(col.points))

		default:
			http.NotFound(w, r)
		}
	})
}

func writeQdrantError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]any{"status": map[string]string{"error": msg}})
	_, _ = w.Write(body)
}

func newTestStore(t *testing.T) (*QdrantStore, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	store, err := NewQdrantStore(QdrantOptions{
		Endpoint:   server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store, fake
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	fresh, err := store.EnsureCollection(ctx, "course_nodejs", 4, false)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !fresh {
		t.Fatalf("expected fresh collection on first ensure")
	}

	if err := store.Upsert(ctx, "course_nodejs", []*Point{
		{ID: "p1", Vector: []float32{1, 0, 0, 0}, Payload: PointPayload{CourseID: "nodejs", Text: "hello"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// 同维度重复 ensure 不得清空数据
	fresh, err = store.EnsureCollection(ctx, "course_nodejs", 4, false)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if fresh {
		t.Fatalf("second ensure with same dim must be a no-op")
	}

	count, err := store.Count(ctx, "course_nodejs")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 point after idempotent ensure, got %d", count)
	}
}

func TestEnsureCollectionRecreatesOnDimensionChange(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureCollection(ctx, "course_py", 4, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.Upsert(ctx, "course_py", []*Point{
		{ID: "p1", Vector: []float32{1, 0, 0, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fresh, err := store.EnsureCollection(ctx, "course_py", 8, false)
	if err != nil {
		t.Fatalf("ensure with new dim: %v", err)
	}
	if !fresh {
		t.Fatalf("dimension change must recreate the collection")
	}

	info, err := store.GetCollectionInfo(ctx, "course_py")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.VectorSize != 8 {
		t.Fatalf("expected dim 8, got %d", info.VectorSize)
	}
	if info.PointsCount != 0 {
		t.Fatalf("recreated collection must be empty, got %d points", info.PointsCount)
	}
}

func TestEnsureCollectionForceRecreate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// 集合不存在时强制重建也不报错
	fresh, err := store.EnsureCollection(ctx, "course_go", 4, true)
	if err != nil {
		t.Fatalf("force ensure on missing collection: %v", err)
	}
	if !fresh {
		t.Fatalf("force recreate must report fresh collection")
	}

	if err := store.Upsert(ctx, "course_go", []*Point{
		{ID: "p1", Vector: []float32{1, 0, 0, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := store.EnsureCollection(ctx, "course_go", 4, true); err != nil {
		t.Fatalf("force ensure: %v", err)
	}
	count, err := store.Count(ctx, "course_go")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("force recreate must drop existing points, got %d", count)
	}
}

func TestUpsertIdempotentByPointID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureCollection(ctx, "course_js", 2, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	points := []*Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: PointPayload{Text: "one"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: PointPayload{Text: "two"}},
	}
	for i := 0; i < 2; i++ {
		if err := store.Upsert(ctx, "course_js", points); err != nil {
			t.Fatalf("upsert #%d: %v", i+1, err)
		}
	}

	count, err := store.Count(ctx, "course_js")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("re-upserting same ids must not duplicate points, got %d", count)
	}
}

func TestSearchRanksNearestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureCollection(ctx, "course_db", 2, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.Upsert(ctx, "course_db", []*Point{
		{ID: "far", Vector: []float32{0, 1}, Payload: PointPayload{CourseID: "db", Text: "far", File: "02.vtt"}},
		{ID: "near", Vector: []float32{1, 0}, Payload: PointPayload{CourseID: "db", Text: "near", File: "01.vtt"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := store.Search(ctx, "course_db", []float32{1, 0.1}, 4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "near" {
		t.Fatalf("nearest point must rank first, got %s", results[0].ID)
	}
	if results[0].Payload.Text != "near" || results[0].Payload.File != "01.vtt" {
		t.Fatalf("unexpected payload: %+v", results[0].Payload)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureCollection(ctx, "course_ml", 4, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	_, err := store.Search(ctx, "course_ml", []float32{1, 0}, 4)
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if !IsDimensionMismatch(err) {
		t.Fatalf("expected KindDimensionMismatch, got %v", err)
	}

	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %T", err)
	}
	if se.Expected != 4 || se.Actual != 2 {
		t.Fatalf("expected dims (4,2), got (%d,%d)", se.Expected, se.Actual)
	}
	if se.Collection != "course_ml" {
		t.Fatalf("unexpected collection in error: %s", se.Collection)
	}
}

func TestDeleteCollectionToleratesMissing(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.DeleteCollection(context.Background(), "never_created"); err != nil {
		t.Fatalf("deleting a missing collection must not fail: %v", err)
	}
}

func TestSearchMissingCollection(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Search(context.Background(), "ghost", []float32{1}, 4)
	if !IsCollectionNotFound(err) {
		t.Fatalf("expected KindCollectionNotFound, got %v", err)
	}
}
