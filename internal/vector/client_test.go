package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestEnsureCollection_GetOrCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["name"] != "kb-profile-1" {
			t.Errorf("name = %v", body["name"])
		}
		if body["get_or_create"] != true {
			t.Errorf("get_or_create = %v", body["get_or_create"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-123", "name": "kb-profile-1"})
	})
	c := newTestClient(t, mux)

	col, err := c.EnsureCollection(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if col.ID != "col-123" || col.Name != "kb-profile-1" {
		t.Fatalf("collection = %+v", col)
	}
}

func TestEnsureCollection_EmptyProfile(t *testing.T) {
	c := NewClient()
	if _, err := c.EnsureCollection(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty profile ID")
	}
}

func TestAddChunks_SendsParallelArrays(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections/col-123/upsert", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	c := newTestClient(t, mux)

	chunks := []Chunk{
		{ID: "doc1#0", Text: "first paragraph", Embedding: []float32{0.1, 0.2}, Metadata: map[string]any{"document_id": "doc1"}},
		{ID: "doc1#1", Text: "second paragraph", Embedding: []float32{0.3, 0.4}, Metadata: map[string]any{"document_id": "doc1"}},
	}
	if err := c.AddChunks(context.Background(), Collection{ID: "col-123"}, chunks); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}

	ids, _ := got["ids"].([]any)
	docs, _ := got["documents"].([]any)
	embs, _ := got["embeddings"].([]any)
	metas, _ := got["metadatas"].([]any)
	if len(ids) != 2 || len(docs) != 2 || len(embs) != 2 || len(metas) != 2 {
		t.Fatalf("parallel arrays uneven: %v", got)
	}
	if ids[0] != "doc1#0" || docs[1] != "second paragraph" {
		t.Fatalf("payload = %v", got)
	}
}

func TestAddChunks_EmptyIsNoop(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty chunk slice")
	}))
	if err := c.AddChunks(context.Background(), Collection{ID: "col-123"}, nil); err != nil {
		t.Fatalf("AddChunks(nil): %v", err)
	}
}

func TestAddChunks_MissingEmbedding(t *testing.T) {
	c := NewClient()
	err := c.AddChunks(context.Background(), Collection{ID: "col-123"}, []Chunk{{ID: "x", Text: "t"}})
	if err == nil {
		t.Fatal("expected error for chunk without embedding")
	}
}

func TestQuery_MapsNestedArrays(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections/col-123/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if n, _ := body["n_results"].(float64); n != 3 {
			t.Errorf("n_results = %v", body["n_results"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{{"doc1#0", "doc2#4"}},
			"documents": [][]string{{"closest text", "second text"}},
			"distances": [][]float64{{0.12, 0.48}},
			"metadatas": [][]map[string]any{{{"document_id": "doc1"}, {"document_id": "doc2"}}},
		})
	})
	c := newTestClient(t, mux)

	got, err := c.Query(context.Background(), Collection{ID: "col-123"}, []float32{0.1, 0.2}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "doc1#0" || got[0].Text != "closest text" || got[0].Distance != 0.12 {
		t.Fatalf("first result = %+v", got[0])
	}
	if got[1].Metadata["document_id"] != "doc2" {
		t.Fatalf("second result metadata = %v", got[1].Metadata)
	}
}

func TestQuery_NoMatchesYieldsEmptySlice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections/col-123/query", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ids": [][]string{{}}, "documents": [][]string{{}}, "distances": [][]float64{{}},
		})
	})
	c := newTestClient(t, mux)

	got, err := c.Query(context.Background(), Collection{ID: "col-123"}, []float32{0.1}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got = %#v, want empty non-nil slice", got)
	}
}

func TestDeleteChunks_And_DeleteDocument(t *testing.T) {
	var bodies []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections/col-123/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies = append(bodies, body)
	})
	c := newTestClient(t, mux)
	col := Collection{ID: "col-123"}

	if err := c.DeleteChunks(context.Background(), col, []string{"doc1#0", "doc1#1"}); err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}
	if err := c.DeleteChunks(context.Background(), col, nil); err != nil {
		t.Fatalf("DeleteChunks(nil): %v", err)
	}
	if err := c.DeleteDocument(context.Background(), col, "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("delete calls = %d, want 2 (empty ids is a no-op)", len(bodies))
	}
	if ids, _ := bodies[0]["ids"].([]any); len(ids) != 2 {
		t.Fatalf("first delete body = %v", bodies[0])
	}
	where, _ := bodies[1]["where"].(map[string]any)
	if where["document_id"] != "doc1" {
		t.Fatalf("second delete body = %v", bodies[1])
	}
}

func TestStatusError_SurfacesCodeAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"segment fault"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.EnsureCollection(context.Background(), "profile-1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.HTTPStatusCode() != 500 {
		t.Fatalf("StatusError = %+v", se)
	}
}
