package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

func newTestClient(url string) *Client {
	return New(Config{
		APIKey:     "test-key",
		BaseURL:    url,
		GenModel:   "gpt-4o-mini",
		EmbedModel: "text-embedding-3-small",
	})
}

func TestEmbedderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":5,"total_tokens":5}}`))
	}))
	defer server.Close()

	emb, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), "refund policy")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(emb.Vector) != 3 || emb.Usage.InputTokens != 5 || emb.Model != "text-embedding-3-small" {
		t.Fatalf("unexpected embedding: %+v", emb)
	}
}

func TestGeneratorGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["max_tokens"] != float64(200) {
			t.Errorf("expected max_tokens=200, got %v", req["max_tokens"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":" Refunds take 14 days. "},"finish_reason":"stop"}],"usage":{"prompt_tokens":40,"completion_tokens":9,"total_tokens":49}}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(newTestClient(server.URL)).Generate(context.Background(), "passage please", 200)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.Text != "Refunds take 14 days." {
		t.Fatalf("unexpected text %q", gen.Text)
	}
	if gen.Usage != (domain.TokenUsage{InputTokens: 40, OutputTokens: 9}) {
		t.Fatalf("unexpected usage %+v", gen.Usage)
	}
}

func TestRateLimitIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestBadRequestIsNotTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := NewGenerator(newTestClient(server.URL)).Generate(context.Background(), "q", 10)
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
