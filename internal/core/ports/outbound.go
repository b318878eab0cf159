package ports

import (
	"context"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// TextGenerator produces short completions (HyDE passages).
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (domain.Generation, error)
}

// CrossEncoder scores (query, document) pairs. Implementations should stop
// at the context deadline; callers stop waiting at it either way.
type CrossEncoder interface {
	Score(ctx context.Context, req domain.RerankRequest) (domain.RerankResponse, error)
}

// CorpusSearcher runs the three retrieval signals. Every call is tenant scoped.
type CorpusSearcher interface {
	SearchVector(ctx context.Context, vector []float32, scope domain.SearchScope) ([]domain.SearchResult, error)
	SearchFullText(ctx context.Context, query string, scope domain.SearchScope) ([]domain.SearchResult, error)
	SearchTrigram(ctx context.Context, query string, scope domain.SearchScope) ([]domain.SearchResult, error)
}

// ChunkNeighborReader supports context expansion.
type ChunkNeighborReader interface {
	ChunkPositions(ctx context.Context, tenantID string, chunkIDs []string) (map[string]domain.ChunkPosition, error)
	NeighborContents(ctx context.Context, tenantID string, keys []domain.ChunkPosition) (map[domain.ChunkPosition]string, error)
}

// UsageSink receives usage events. Callers on the request path go through a
// UsageRecorder instead.
type UsageSink interface {
	LogUsage(ctx context.Context, event domain.UsageEvent) error
}

// UsageRecorder accepts usage events without blocking the caller.
type UsageRecorder interface {
	Record(event domain.UsageEvent)
}

// UsageStore persists usage events on the worker side.
type UsageStore interface {
	EnsureSchema(ctx context.Context) error
	InsertUsageEvent(ctx context.Context, event domain.UsageEvent) error
}

// UsageQueue moves usage events from the API to the worker.
type UsageQueue interface {
	PublishUsage(ctx context.Context, event domain.UsageEvent) error
	SubscribeUsage(ctx context.Context, handler func(context.Context, domain.UsageEvent) error) error
}
