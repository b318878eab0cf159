package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

const (
	StageHyDE     = "hyde"
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageFusion   = "fusion"
	StageRerank   = "rerank"
	StageContext  = "context"
)

type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
	RRFK         int
	// RRFWeights apply to the vector, lexical and fuzzy lists in that order.
	RRFWeights []float64
}

func (c SearchConfig) normalize() SearchConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFK
	}
	if len(c.RRFWeights) != 3 {
		c.RRFWeights = DefaultSignalWeights
	}
	return c
}

// SearchComponents are the optional stages of the pipeline. A nil stage is
// skipped even when the request asks for it.
type SearchComponents struct {
	QueryExpander   *QueryExpander
	Reranker        *Reranker
	ContextExpander *ContextExpander
	Usage           ports.UsageRecorder
	Observer        SearchObserver
	Logger          *slog.Logger
}

type SearchUseCase struct {
	embedder  ports.Embedder
	retriever *MultiSignalRetriever
	hyde      *QueryExpander
	reranker  *Reranker
	neighbors *ContextExpander
	usage     ports.UsageRecorder
	observer  SearchObserver
	cfg       SearchConfig
	logger    *slog.Logger
}

func NewSearchUseCase(
	embedder ports.Embedder,
	retriever *MultiSignalRetriever,
	components SearchComponents,
	cfg SearchConfig,
) *SearchUseCase {
	observer := components.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := components.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchUseCase{
		embedder:  embedder,
		retriever: retriever,
		hyde:      components.QueryExpander,
		reranker:  components.Reranker,
		neighbors: components.ContextExpander,
		usage:     components.Usage,
		observer:  observer,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

func (uc *SearchUseCase) Search(
	ctx context.Context,
	tenantID string,
	query string,
	opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	start := time.Now()

	tenantID, err := domain.NormalizeTenantID(tenantID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", err)
	}
	query = strings.TrimSpace(query)
	limit, err := uc.validate(query, opts)
	if err != nil {
		return nil, err
	}
	fetchLimit := limit * 2
	if opts.Rerank {
		fetchLimit = limit * 3
	}
	usageCtx := opts.UsageContext(tenantID)

	embedText := query
	if opts.HyDE && uc.hyde != nil {
		stageStart := time.Now()
		embedText = uc.hyde.Expand(ctx, query, usageCtx)
		uc.observer.ObserveStage(StageHyDE, time.Since(stageStart))
		if embedText == query {
			uc.observer.RecordDegradation(StageHyDE, "fallback")
		}
	}

	stageStart := time.Now()
	embedding, err := uc.embedder.Embed(ctx, embedText)
	uc.observer.ObserveStage(StageEmbed, time.Since(stageStart))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if uc.usage != nil && (embedding.Usage.InputTokens > 0 || embedding.Usage.OutputTokens > 0) {
		uc.usage.Record(domain.NewUsageEvent(usageCtx, domain.UsageEmbedding, embedding.Model, embedding.Usage))
	}

	scope := domain.SearchScope{
		TenantID:      tenantID,
		CollectionIDs: opts.CollectionIDs,
		Filters:       opts.Filters,
		Limit:         fetchLimit,
	}
	stageStart = time.Now()
	signals, err := uc.retriever.Retrieve(ctx, embedding.Vector, query, scope)
	uc.observer.ObserveStage(StageRetrieve, time.Since(stageStart))
	if err != nil {
		return nil, fmt.Errorf("retrieve signals: %w", err)
	}

	stageStart = time.Now()
	results := trimResults(fuseSignals(signals.Vector, signals.Lexical, signals.Fuzzy, uc.cfg.RRFWeights, uc.cfg.RRFK), fetchLimit)
	uc.observer.ObserveStage(StageFusion, time.Since(stageStart))

	if opts.Rerank && uc.reranker != nil {
		stageStart = time.Now()
		reranked, err := uc.reranker.Rerank(ctx, query, results, usageCtx)
		uc.observer.ObserveStage(StageRerank, time.Since(stageStart))
		if err != nil {
			uc.observer.RecordDegradation(StageRerank, "fallback")
		} else {
			results = reranked
		}
	}

	results = trimResults(results, limit)

	if opts.ExpandContext && uc.neighbors != nil {
		stageStart = time.Now()
		results = uc.neighbors.Expand(ctx, tenantID, results)
		uc.observer.ObserveStage(StageContext, time.Since(stageStart))
	}

	if results == nil {
		results = []domain.SearchResult{}
	}

	elapsed := time.Since(start)
	uc.logger.Debug("search_completed",
		"tenant_id", tenantID,
		"results", len(results),
		"vector_hits", len(signals.Vector),
		"lexical_hits", len(signals.Lexical),
		"fuzzy_hits", len(signals.Fuzzy),
		"duration_ms", float64(elapsed.Microseconds())/1000.0,
	)

	return &domain.SearchResponse{
		Results:     results,
		QueryTimeMs: elapsed.Milliseconds(),
	}, nil
}

func (uc *SearchUseCase) validate(query string, opts domain.SearchOptions) (int, error) {
	if query == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("query is required"))
	}

	limit := opts.Limit
	switch {
	case limit == 0:
		limit = uc.cfg.DefaultLimit
	case limit < 0 || limit > uc.cfg.MaxLimit:
		return 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("limit must be between 1 and %d, got %d", uc.cfg.MaxLimit, limit))
	}

	for _, f := range opts.Filters {
		if err := f.Validate(); err != nil {
			return 0, err
		}
	}
	return limit, nil
}
