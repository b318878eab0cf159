package crossencoder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

func TestScoreSendsWireFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["query"] != "refund policy" || req["top_n"] != float64(2) || req["model"] != "bge-reranker-v2-m3" {
			t.Errorf("unexpected payload %v", req)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.93},{"index":0,"relevance_score":0.12}]}`))
	}))
	defer server.Close()

	client := New(Config{URL: server.URL, Model: "bge-reranker-v2-m3", APIKey: "secret"})
	resp, err := client.Score(context.Background(), domain.RerankRequest{
		Query:     "refund policy",
		Documents: []string{"shipping times", "refunds within 14 days"},
		TopN:      2,
	})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if resp.Model != "bge-reranker-v2-m3" || len(resp.Results) != 2 || resp.Results[0].Index != 1 || resp.Results[0].RelevanceScore != 0.93 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestScoreHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(Config{URL: server.URL}).Score(ctx, domain.RerankRequest{Query: "q", Documents: []string{"a", "b"}, TopN: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestScoreUpstreamErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(Config{URL: server.URL}).Score(context.Background(), domain.RerankRequest{Query: "q", Documents: []string{"a"}, TopN: 1})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
