// Package vector is a minimal Chroma REST client backing the per-profile
// knowledge base. Each profile owns one collection; documents are stored as
// embedded chunks tagged with their source document ID so a document can be
// re-indexed or removed as a unit.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8000"

// collectionPrefix namespaces knowledge-base collections on a shared
// Chroma server.
const collectionPrefix = "kb-"

// Collection identifies a Chroma collection.
type Collection struct {
	ID   string
	Name string
}

// Chunk is one embedded slice of a knowledge document.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// QueryResult is one nearest-neighbor match. Distance is the collection's
// distance metric, smaller meaning closer.
type QueryResult struct {
	ID       string
	Text     string
	Distance float64
	Metadata map[string]any
}

// StatusError captures non-2xx Chroma responses with status-aware context.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vector: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to a Chroma server over its v1 REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = strings.TrimRight(s, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a Chroma client. An empty baseURL targets a local
// server on the default port.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CollectionName returns the Chroma collection name for a profile.
func CollectionName(profileID string) string {
	return collectionPrefix + profileID
}

type collectionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureCollection creates the profile's collection if it does not exist
// and returns its identity either way.
func (c *Client) EnsureCollection(ctx context.Context, profileID string) (Collection, error) {
	if strings.TrimSpace(profileID) == "" {
		return Collection{}, errors.New("vector: profile ID must not be empty")
	}

	body := map[string]any{
		"name":          CollectionName(profileID),
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var resp collectionResponse
	if err := c.postJSON(ctx, "/api/v1/collections", body, &resp); err != nil {
		return Collection{}, err
	}
	if resp.ID == "" {
		return Collection{}, errors.New("vector: collection response missing id")
	}
	return Collection{ID: resp.ID, Name: resp.Name}, nil
}

// AddChunks upserts embedded chunks into the collection.
func (c *Client) AddChunks(ctx context.Context, col Collection, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		if ch.ID == "" {
			return fmt.Errorf("vector: chunk %d has no ID", i)
		}
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("vector: chunk %s has no embedding", ch.ID)
		}
		ids[i] = ch.ID
		embeddings[i] = ch.Embedding
		documents[i] = ch.Text
		metadatas[i] = ch.Metadata
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	return c.postJSON(ctx, "/api/v1/collections/"+col.ID+"/upsert", body, nil)
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query returns up to topK nearest chunks for the embedding, closest
// first. No match yields an empty slice, not an error.
func (c *Client) Query(ctx context.Context, col Collection, embedding []float32, topK int) ([]QueryResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("vector: query embedding must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	var resp queryResponse
	if err := c.postJSON(ctx, "/api/v1/collections/"+col.ID+"/query", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return []QueryResult{}, nil
	}

	n := len(resp.IDs[0])
	out := make([]QueryResult, 0, n)
	for i := 0; i < n; i++ {
		r := QueryResult{ID: resp.IDs[0][i]}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Text = resp.Documents[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Distance = resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			r.Metadata = resp.Metadatas[0][i]
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteChunks removes chunks by ID. Unknown IDs are ignored by the server.
func (c *Client) DeleteChunks(ctx context.Context, col Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	return c.postJSON(ctx, "/api/v1/collections/"+col.ID+"/delete", body, nil)
}

// DeleteDocument removes every chunk whose metadata marks it as belonging
// to the given source document.
func (c *Client) DeleteDocument(ctx context.Context, col Collection, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return errors.New("vector: document ID must not be empty")
	}
	body := map[string]any{
		"where": map[string]any{"document_id": documentID},
	}
	return c.postJSON(ctx, "/api/v1/collections/"+col.ID+"/delete", body, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("vector: marshal request: %w", err)
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{
			StatusCode: res.StatusCode,
			URL:        reqURL,
			Body:       string(buf),
		}
	}
	if out == nil {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("vector: read response body: %w", err)
	}
	if len(buf) == 0 {
		return nil
	}
	if decErr := json.Unmarshal(buf, out); decErr != nil {
		return fmt.Errorf("vector: decode response: %w", decErr)
	}
	return nil
}
