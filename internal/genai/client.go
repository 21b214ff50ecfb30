// Package genai is a focused client for an OpenAI-compatible API, covering
// the two endpoints the engagement pipeline needs: chat completions for
// draft replies and embeddings for the knowledge base.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-engage-backend/internal/retry"
)

const defaultBaseURL = "https://api.openai.com/v1"

const (
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// Message is a single chat turn sent to the completions endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int     `json:"index"`
		Message Message `json:"message"`
	} `json:"choices"`
}

// embeddingsRequest is the request shape for the Embeddings endpoint.
type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingsResponse is the minimal response shape for the Embeddings endpoint.
type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	// RetryAfter is the upstream's requested wait on 429 responses, zero
	// when the header was absent.
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("genai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to an OpenAI-compatible API. Transient upstream failures
// (429, 5xx, transport errors) are retried with exponential backoff.
type Client struct {
	baseURL     string
	apiKey      string
	chatModel   string
	embedModel  string
	temperature *float64
	httpClient  *http.Client
	backoff     retry.Config
}

type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithChatModel overrides the completion model.
func WithChatModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.embedModel = model
		}
	}
}

// WithTemperature pins the sampling temperature instead of using the API
// default.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// WithBackoff overrides the retry schedule for upstream calls.
func WithBackoff(cfg retry.Config) Option {
	return func(c *Client) {
		c.backoff = cfg
	}
}

// NewClient creates a Client authenticated with the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("genai: API key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		chatModel:  defaultChatModel,
		embedModel: defaultEmbeddingModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		backoff:    retry.Generation(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 60s timeout if none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// Chat sends the messages to the completions endpoint and returns the
// first choice's content.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("genai: messages must not be empty")
	}

	reqURL := endpointURL(c.baseURL, "/chat/completions")
	var payload chatResponse
	err := c.postJSON(ctx, reqURL, chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: c.temperature,
	}, &payload)
	if err != nil {
		return "", fmt.Errorf("genai: chat request failed: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("genai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("genai: texts must not be empty")
	}

	reqURL := endpointURL(c.baseURL, "/embeddings")
	var payload embeddingsResponse
	err := c.postJSON(ctx, reqURL, embeddingsRequest{
		Model: c.embedModel,
		Input: texts,
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("genai: embeddings request failed: %w", err)
	}
	if len(payload.Data) != len(texts) {
		return nil, fmt.Errorf("genai: got %d embeddings for %d inputs", len(payload.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range payload.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("genai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// postJSON marshals the payload once and replays the request under the
// retry schedule, decoding the successful response into out.
func (c *Client) postJSON(ctx context.Context, reqURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}

	cfg := c.backoff
	cfg.Retryable = isTransient
	cfg.DelayHint = retryAfterHint

	var raw []byte
	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("genai: create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		raw, reqErr = c.doJSONRequest(req, reqURL)
		return reqErr
	})
	if err != nil {
		return err
	}

	if decErr := json.Unmarshal(raw, out); decErr != nil {
		return fmt.Errorf("genai: decode response: %w", decErr)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, reqURL string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        reqURL,
			Body:       string(buf),
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// isTransient reports whether a failed call may succeed on replay:
// throttling, server-side failures, and transport errors qualify.
func isTransient(err error) bool {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func retryAfterHint(err error) time.Duration {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
