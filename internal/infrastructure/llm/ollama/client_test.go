package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/resilience"
)

func TestGeneratorSendsTokenBudgetAndReportsUsage(t *testing.T) {
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","response":"  Refunds take 14 days. ","prompt_eval_count":31,"eval_count":12}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3.1:8b", "nomic-embed-text"))
	out, err := gen.Generate(context.Background(), "write a passage", 200)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if captured.Options.NumPredict != 200 || captured.Stream || captured.Prompt != "write a passage" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if out.Text != "Refunds take 14 days." {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Usage != (domain.TokenUsage{InputTokens: 31, OutputTokens: 12}) || out.Model != "llama3.1:8b" {
		t.Fatalf("unexpected usage/model: %+v", out)
	}
}

func TestEmbedderReturnsFirstVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Input[0] != "refund policy" || req.Model != "nomic-embed-text" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]],"prompt_eval_count":4}`))
	}))
	defer server.Close()

	emb, err := NewEmbedder(New(server.URL, "gen", "nomic-embed-text")).Embed(context.Background(), "refund policy")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(emb.Vector) != 3 || emb.Usage.InputTokens != 4 || emb.Model != "nomic-embed-text" {
		t.Fatalf("unexpected embedding: %+v", emb)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed")).Embed(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestEmbedRetriesThroughExecutor(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	client := NewWithOptions(server.URL, "gen", "embed", Options{ResilienceExecutor: exec})
	if _, err := NewEmbedder(client).Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestEmbedEmptyResultIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	if _, err := NewEmbedder(New(server.URL, "gen", "embed")).Embed(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for empty embeddings")
	}
}
