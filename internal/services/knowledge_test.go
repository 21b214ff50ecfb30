package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

const (
	paraOne = "Columnar storage compresses time series data exceptionally well."
	paraTwo = "Retention policies should be set before the first byte arrives."
)

func TestIndexDocument_ChunksEmbedsAndUpserts(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}

	n, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "Storage notes", paraOne+"\n\n"+paraTwo)
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if n != 2 {
		t.Fatalf("chunks stored = %d; want 2", n)
	}

	// Old chunks are cleared before the new ones land.
	if got := strings.Join(store.ops, ","); got != "ensure,delete,add" {
		t.Fatalf("store call order = %q; want ensure,delete,add", got)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "doc-1" {
		t.Fatalf("deleted = %v; want [doc-1]", store.deleted)
	}
	if store.profileIDs[0] != "prof-1" {
		t.Fatalf("collection resolved for %q; want prof-1", store.profileIDs[0])
	}

	if len(gen.embedCalls) != 1 || len(gen.embedCalls[0]) != 2 {
		t.Fatalf("embed calls = %+v; want one batch of 2 texts", gen.embedCalls)
	}

	chunks := store.added[0]
	if len(chunks) != 2 {
		t.Fatalf("added %d chunks; want 2", len(chunks))
	}
	for i, want := range []string{paraOne, paraTwo} {
		c := chunks[i]
		if want := fmt.Sprintf("doc-1#%d", i); c.ID != want {
			t.Errorf("chunk %d id = %q; want %q", i, c.ID, want)
		}
		if c.Text != want {
			t.Errorf("chunk %d text = %q; want %q", i, c.Text, want)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
		if c.Metadata["document_id"] != "doc-1" || c.Metadata["title"] != "Storage notes" || c.Metadata["chunk"] != i {
			t.Errorf("chunk %d metadata = %v", i, c.Metadata)
		}
	}
}

func TestIndexDocument_ReindexReplacesPrevious(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}
	ctx := context.Background()

	if _, err := s.IndexDocument(ctx, "prof-1", "doc-1", "v1", paraOne+"\n\n"+paraTwo); err != nil {
		t.Fatalf("first index: %v", err)
	}
	n, err := s.IndexDocument(ctx, "prof-1", "doc-1", "v2", paraOne)
	if err != nil {
		t.Fatalf("re-index: %v", err)
	}
	if n != 1 {
		t.Fatalf("re-index stored %d chunks; want 1", n)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("delete ran %d times; want before every upsert", len(store.deleted))
	}
	if len(store.added[1]) != 1 {
		t.Fatalf("second upsert carried %d chunks; want 1", len(store.added[1]))
	}
}

func TestIndexDocument_EmptyDocID(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}

	_, err := s.IndexDocument(context.Background(), "prof-1", "   ", "t", paraOne)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v; want ValidationError", err)
	}
	if len(store.ops) != 0 || len(gen.embedCalls) != 0 {
		t.Fatalf("rejected document still reached the collaborators")
	}
}

func TestIndexDocument_NoChunksLeavesStoreUntouched(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}

	_, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "t", "too short")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v; want ValidationError", err)
	}
	if len(store.ops) != 0 {
		t.Fatalf("store ops = %v; want none", store.ops)
	}
	if len(gen.embedCalls) != 0 {
		t.Fatalf("embedded an empty document")
	}
}

func TestIndexDocument_EmbedCountMismatch(t *testing.T) {
	gen := &fakeGenerator{embedVecs: [][]float32{{0.5}}}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}

	_, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "t", paraOne+"\n\n"+paraTwo)
	if err == nil || !strings.Contains(err.Error(), "got 1 vectors for 2 chunks") {
		t.Fatalf("err = %v; want the vector/chunk count mismatch", err)
	}
	if len(store.ops) != 0 {
		t.Fatalf("mismatched batch still reached the store")
	}
}

func TestIndexDocument_EmbedErrorWrapped(t *testing.T) {
	quota := errors.New("quota exhausted")
	gen := &fakeGenerator{embedErr: quota}
	s := &KnowledgeService{Embedder: gen, Store: &fakeStore{}}

	_, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "t", paraOne)
	if !errors.Is(err, quota) {
		t.Fatalf("err = %v; want the embed error in the chain", err)
	}
	if !strings.Contains(err.Error(), "embedding document doc-1") {
		t.Fatalf("err = %v; want the document named", err)
	}
}

func TestIndexDocument_MaxChunksCap(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store, MaxChunks: 1}

	n, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "t", paraOne+"\n\n"+paraTwo)
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored %d chunks; want the cap of 1", n)
	}
	if got := store.added[0][0].ID; got != "doc-1#0" {
		t.Fatalf("kept chunk = %q; want doc-1#0", got)
	}
}

func TestIndexDocument_FlattensTables(t *testing.T) {
	gen := &fakeGenerator{}
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: gen, Store: store}

	doc := "| metric | target |\n| ------ | ------ |\n| p99 latency | under 200ms |\n| error rate | under 0.1% |"
	n, err := s.IndexDocument(context.Background(), "prof-1", "doc-1", "SLOs", doc)
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if n != 1 {
		t.Fatalf("table produced %d chunks; want 1", n)
	}
	text := store.added[0][0].Text
	if !strings.Contains(text, "p99 latency under 200ms") {
		t.Fatalf("flattened chunk = %q; want the row cells joined", text)
	}
	if strings.ContainsAny(text, "|-") {
		t.Fatalf("chunk still carries table markup: %q", text)
	}
}

func TestRemoveDocument(t *testing.T) {
	store := &fakeStore{}
	s := &KnowledgeService{Embedder: &fakeGenerator{}, Store: store}
	ctx := context.Background()

	if err := s.RemoveDocument(ctx, "prof-1", "doc-9"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if got := strings.Join(store.ops, ","); got != "ensure,delete" {
		t.Fatalf("store call order = %q; want ensure,delete", got)
	}
	if store.deleted[0] != "doc-9" {
		t.Fatalf("deleted = %v; want [doc-9]", store.deleted)
	}

	var verr *ValidationError
	if err := s.RemoveDocument(ctx, "prof-1", "  "); !errors.As(err, &verr) {
		t.Fatalf("blank id: %v; want ValidationError", err)
	}

	down := &fakeStore{ensureErr: errors.New("chroma is down")}
	s.Store = down
	if err := s.RemoveDocument(ctx, "prof-1", "doc-9"); err == nil {
		t.Fatalf("expected the collection error to propagate")
	}
}
