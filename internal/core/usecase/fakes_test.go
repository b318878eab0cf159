package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

const testTenant = "6f1c2a8e-3b9d-4c11-9a4e-2f7d8b1c0e55"

type embedderFake struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *embedderFake) Embed(_ context.Context, text string) (domain.Embedding, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return domain.Embedding{}, f.err
	}
	return domain.Embedding{
		Vector: []float32{0.1, 0.2, 0.3},
		Model:  "embed-test",
		Usage:  domain.TokenUsage{InputTokens: 3},
	}, nil
}

type corpusFake struct {
	vector  []domain.SearchResult
	lexical []domain.SearchResult
	fuzzy   []domain.SearchResult

	vectorErr  error
	lexicalErr error
	fuzzyErr   error

	mu     sync.Mutex
	scopes []domain.SearchScope
	texts  []string
}

func (f *corpusFake) record(scope domain.SearchScope, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
	if text != "" {
		f.texts = append(f.texts, text)
	}
}

func (f *corpusFake) SearchVector(_ context.Context, _ []float32, scope domain.SearchScope) ([]domain.SearchResult, error) {
	f.record(scope, "")
	return f.vector, f.vectorErr
}

func (f *corpusFake) SearchFullText(_ context.Context, query string, scope domain.SearchScope) ([]domain.SearchResult, error) {
	f.record(scope, query)
	return f.lexical, f.lexicalErr
}

func (f *corpusFake) SearchTrigram(_ context.Context, query string, scope domain.SearchScope) ([]domain.SearchResult, error) {
	f.record(scope, query)
	if f.fuzzyErr != nil {
		return nil, f.fuzzyErr
	}
	return f.fuzzy, nil
}

type encoderFake struct {
	mu       sync.Mutex
	calls    int
	requests []domain.RerankRequest
	resp     domain.RerankResponse
	err      error
	block    bool
	ignore   bool
	ctxErr   error
}

func (f *encoderFake) observedCtxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxErr
}

func (f *encoderFake) Score(ctx context.Context, req domain.RerankRequest) (domain.RerankResponse, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.ignore {
		time.Sleep(2 * time.Second)
		return f.resp, f.err
	}
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return domain.RerankResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

type generatorFake struct {
	text   string
	err    error
	block  bool
	ctxErr error
	prompt string
}

func (f *generatorFake) Generate(ctx context.Context, prompt string, _ int) (domain.Generation, error) {
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		f.ctxErr = ctx.Err()
		return domain.Generation{}, ctx.Err()
	}
	if f.err != nil {
		return domain.Generation{}, f.err
	}
	return domain.Generation{
		Text:  f.text,
		Model: "gen-test",
		Usage: domain.TokenUsage{InputTokens: 20, OutputTokens: 40},
	}, nil
}

type neighborsFake struct {
	positions map[string]domain.ChunkPosition
	contents  map[domain.ChunkPosition]string
	err       error

	positionCalls int
	contentCalls  int
	keys          []domain.ChunkPosition
}

func (f *neighborsFake) ChunkPositions(_ context.Context, _ string, chunkIDs []string) (map[string]domain.ChunkPosition, error) {
	f.positionCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.ChunkPosition, len(chunkIDs))
	for _, id := range chunkIDs {
		if pos, ok := f.positions[id]; ok {
			out[id] = pos
		}
	}
	return out, nil
}

func (f *neighborsFake) NeighborContents(_ context.Context, _ string, keys []domain.ChunkPosition) (map[domain.ChunkPosition]string, error) {
	f.contentCalls++
	f.keys = append(f.keys, keys...)
	out := make(map[domain.ChunkPosition]string, len(keys))
	for _, k := range keys {
		if text, ok := f.contents[k]; ok {
			out[k] = text
		}
	}
	return out, nil
}

type usageRecorderFake struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func (f *usageRecorderFake) Record(event domain.UsageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *usageRecorderFake) byType(t domain.UsageRequestType) []domain.UsageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UsageEvent
	for _, e := range f.events {
		if e.RequestType == t {
			out = append(out, e)
		}
	}
	return out
}

func result(id string, score float64) domain.SearchResult {
	return domain.SearchResult{ChunkID: id, Content: "content of " + id, Score: score}
}

func chunkIDs(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}
