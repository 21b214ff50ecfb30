package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-engage-backend/internal/retry"
)

func fastBackoff() retry.Config {
	return retry.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     false,
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithBackoff(fastBackoff()),
	}, opts...)
	c, err := NewClient("sk-test", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := endpointURL(tc.base, "/chat/completions"); got != tc.want {
			t.Errorf("endpointURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestNewClient_EmptyKey(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestChat_SendsModelAndAuth_ReturnsFirstChoice(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "test-chat-model" {
			t.Errorf("model = %v", req["model"])
		}
		if temp, ok := req["temperature"].(float64); !ok || temp != 0.4 {
			t.Errorf("temperature = %v", req["temperature"])
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "drafted reply"}},
			},
		})
	})
	c := newTestClient(t, handler, WithChatModel("test-chat-model"), WithTemperature(0.4))

	got, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "you write replies"},
		{Role: "user", Content: "draft one"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "drafted reply" {
		t.Fatalf("Chat = %q", got)
	}
}

func TestChat_NoChoices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cmpl-1", "choices": []any{}})
	})
	c := newTestClient(t, handler)

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("err = %v, want no-choices failure", err)
	}
}

func TestChat_EmptyMessages(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	if _, err := c.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestEmbed_ReturnsVectorsInInputOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-embed-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Input) != 2 {
			t.Errorf("input = %v", req.Input)
		}

		// Deliberately out of order; the client must place by index.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.3, 0.4}},
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	})
	c := newTestClient(t, handler, WithEmbeddingModel("test-embed-model"))

	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}},
		})
	})
	c := newTestClient(t, handler)

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "2 inputs") {
		t.Fatalf("err = %v, want count mismatch", err)
	}
}

func TestRetry_TransientStatusReplayed(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	})
	c := newTestClient(t, handler)

	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat after transient failure: %v", err)
	}
	if got != "ok" {
		t.Fatalf("Chat = %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("upstream calls = %d, want 2", n)
	}
}

func TestRetry_PermanentStatusNotReplayed(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	})
	c := newTestClient(t, handler)

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want HTTPStatusError 400", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("upstream calls = %d, want 1 (no retry on 4xx)", n)
	}
}

func TestDoJSONRequest_ParsesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	_, derr := c.doJSONRequest(req, srv.URL)
	var se *HTTPStatusError
	if !errors.As(derr, &se) {
		t.Fatalf("err = %v, want HTTPStatusError", derr)
	}
	if se.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", se.RetryAfter)
	}
	if retryAfterHint(derr) != 7*time.Second {
		t.Fatalf("retryAfterHint = %v", retryAfterHint(derr))
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &HTTPStatusError{StatusCode: 429}, true},
		{"500", &HTTPStatusError{StatusCode: 500}, true},
		{"400", &HTTPStatusError{StatusCode: 400}, false},
		{"401", &HTTPStatusError{StatusCode: 401}, false},
		{"transport", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, true},
		{"other", errors.New("decode failed"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

