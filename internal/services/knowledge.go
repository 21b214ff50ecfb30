// Package services – KnowledgeService
//
// This file implements KnowledgeService, which populates and prunes the
// per-profile knowledge collections that ground generated drafts. Documents
// are split into paragraph-sized chunks, embedded in one batch call, and
// upserted with their source document recorded in chunk metadata, so a
// document can later be replaced or removed as a unit.

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-engage-backend/internal/chunk"
	"github.com/tbourn/go-engage-backend/internal/vector"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Embedder produces embedding vectors for document chunks.
type Embedder interface {
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore is the vector-store contract used for document ingestion.
type ChunkStore interface {
	// EnsureCollection resolves the profile's knowledge collection,
	// creating it when absent.
	EnsureCollection(ctx context.Context, profileID string) (vector.Collection, error)

	// AddChunks upserts chunks into the collection.
	AddChunks(ctx context.Context, col vector.Collection, chunks []vector.Chunk) error

	// DeleteDocument removes every chunk whose metadata references the
	// document. Unknown documents are a no-op.
	DeleteDocument(ctx context.Context, col vector.Collection, documentID string) error
}

// KnowledgeService ingests owner documents into per-profile knowledge
// collections.
type KnowledgeService struct {
	// Embedder turns chunk text into vectors.
	Embedder Embedder
	// Store holds the per-profile chunk collections.
	Store ChunkStore

	// MaxChunks caps how many chunks one document may produce. Zero means
	// no cap.
	MaxChunks int
}

// IndexDocument splits the document into chunks, embeds them, and upserts
// them into the profile's collection under docID. Re-indexing an existing
// docID replaces its previous chunks. Returns the number of chunks stored.
func (s *KnowledgeService) IndexDocument(ctx context.Context, profileID, docID, title, text string) (int, error) {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "IndexDocument",
		trace.WithAttributes(
			attribute.String("profile.id", profileID),
			attribute.String("document.id", docID),
		),
	)
	defer span.End()

	docID = strings.TrimSpace(docID)
	if docID == "" {
		return 0, &ValidationError{Reason: "document id is empty"}
	}

	opts := []chunk.Option{}
	if s.MaxChunks > 0 {
		opts = append(opts, chunk.WithMaxChunks(s.MaxChunks))
	}
	parts := chunk.Split(chunk.FlattenTables(text), opts...)
	if len(parts) == 0 {
		return 0, &ValidationError{Reason: "document produced no indexable chunks"}
	}

	embs, err := s.Embedder.Embed(ctx, parts)
	if err != nil {
		return 0, fmt.Errorf("embedding document %s: %w", docID, err)
	}
	if len(embs) != len(parts) {
		return 0, fmt.Errorf("embedding document %s: got %d vectors for %d chunks", docID, len(embs), len(parts))
	}

	col, err := s.Store.EnsureCollection(ctx, profileID)
	if err != nil {
		return 0, err
	}
	// Clear any previous version so a shrinking document leaves no stale
	// tail chunks behind.
	if err := s.Store.DeleteDocument(ctx, col, docID); err != nil {
		return 0, err
	}

	chunks := make([]vector.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = vector.Chunk{
			ID:        fmt.Sprintf("%s#%d", docID, i),
			Text:      p,
			Embedding: embs[i],
			Metadata: map[string]any{
				"document_id": docID,
				"title":       title,
				"chunk":       i,
			},
		}
	}
	if err := s.Store.AddChunks(ctx, col, chunks); err != nil {
		return 0, err
	}

	log.Info().
		Str("profile_id", profileID).
		Str("document_id", docID).
		Int("chunks", len(chunks)).
		Msg("document indexed")
	return len(chunks), nil
}

// RemoveDocument deletes every chunk of the document from the profile's
// collection. Removing an unknown document is a no-op.
func (s *KnowledgeService) RemoveDocument(ctx context.Context, profileID, docID string) error {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "RemoveDocument",
		trace.WithAttributes(
			attribute.String("profile.id", profileID),
			attribute.String("document.id", docID),
		),
	)
	defer span.End()

	docID = strings.TrimSpace(docID)
	if docID == "" {
		return &ValidationError{Reason: "document id is empty"}
	}
	col, err := s.Store.EnsureCollection(ctx, profileID)
	if err != nil {
		return err
	}
	return s.Store.DeleteDocument(ctx, col, docID)
}
