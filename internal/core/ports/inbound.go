package ports

import (
	"context"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

// SearchService is the inbound contract for hybrid retrieval.
type SearchService interface {
	Search(ctx context.Context, tenantID, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}

// UsageIngestor persists usage events delivered by the queue.
type UsageIngestor interface {
	Ingest(ctx context.Context, event domain.UsageEvent) error
}
