package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

// BlendWeights combines the cross-encoder score with the fused score and the
// candidate's pre-rerank position. Independent of the RRF signal weights.
type BlendWeights struct {
	Semantic float64
	Vector   float64
	Position float64
}

func DefaultBlendWeights() BlendWeights {
	return BlendWeights{Semantic: 0.5, Vector: 0.3, Position: 0.2}
}

type RerankConfig struct {
	Timeout      time.Duration
	MaxDocLength int
	Weights      BlendWeights
	Model        string
}

func (c RerankConfig) normalize() RerankConfig {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.MaxDocLength <= 0 {
		c.MaxDocLength = 2048
	}
	if c.Weights == (BlendWeights{}) {
		c.Weights = DefaultBlendWeights()
	}
	return c
}

type Reranker struct {
	encoder ports.CrossEncoder
	usage   ports.UsageRecorder
	cfg     RerankConfig
	logger  *slog.Logger
}

func NewReranker(encoder ports.CrossEncoder, usage ports.UsageRecorder, cfg RerankConfig, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		encoder: encoder,
		usage:   usage,
		cfg:     cfg.normalize(),
		logger:  logger,
	}
}

// Rerank re-scores the fused candidates. On any failure it returns
// domain.ErrRerankUnavailable and the caller keeps the fused order.
func (r *Reranker) Rerank(
	ctx context.Context,
	query string,
	candidates []domain.SearchResult,
	uc domain.UsageContext,
) ([]domain.SearchResult, error) {
	switch len(candidates) {
	case 0:
		return []domain.SearchResult{}, nil
	case 1:
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = truncateRunes(c.Content, r.cfg.MaxDocLength)
	}

	start := time.Now()
	scores, model, err := r.score(ctx, query, documents)
	if err != nil {
		r.logger.Warn("rerank_fallback",
			"tenant_id", uc.TenantID,
			"candidates", len(candidates),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", err,
		)
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank", err)
	}

	if r.usage != nil {
		event := domain.NewUsageEvent(uc, domain.UsageRerank, model, domain.TokenUsage{InputTokens: len(documents)})
		event.Extras = map[string]any{"documents": len(documents)}
		r.usage.Record(event)
	}

	return blendScores(candidates, scores, r.cfg.Weights), nil
}

func (r *Reranker) score(ctx context.Context, query string, documents []string) (map[int]float64, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type scoreResult struct {
		resp domain.RerankResponse
		err  error
	}
	// Buffered so a late encoder never blocks after the deadline fired.
	done := make(chan scoreResult, 1)
	go func() {
		resp, err := r.encoder.Score(callCtx, domain.RerankRequest{
			Query:     query,
			Documents: documents,
			TopN:      len(documents),
		})
		done <- scoreResult{resp: resp, err: err}
	}()

	var (
		resp domain.RerankResponse
		err  error
	)
	select {
	case res := <-done:
		resp, err = res.resp, res.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("cross-encoder timed out after %s: %w", r.cfg.Timeout, err)
		}
		return nil, "", fmt.Errorf("cross-encoder call: %w", err)
	}

	scores := validRerankScores(resp.Results, len(documents))
	if len(scores)*2 < len(documents) {
		return nil, "", fmt.Errorf("cross-encoder scored %d of %d documents", len(scores), len(documents))
	}

	model := resp.Model
	if model == "" {
		model = r.cfg.Model
	}
	return scores, model, nil
}

// validRerankScores keeps the first finite score per in-range index.
func validRerankScores(results []domain.RerankScore, total int) map[int]float64 {
	out := make(map[int]float64, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= total {
			continue
		}
		if math.IsNaN(res.RelevanceScore) || math.IsInf(res.RelevanceScore, 0) {
			continue
		}
		if _, dup := out[res.Index]; dup {
			continue
		}
		out[res.Index] = res.RelevanceScore
	}
	return out
}

func blendScores(candidates []domain.SearchResult, scores map[int]float64, w BlendWeights) []domain.SearchResult {
	total := float64(len(candidates))
	out := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		rerankScore := clamp01(scores[i])
		position := 1 - float64(i)/total
		c.Score = w.Semantic*rerankScore + w.Vector*c.Score + w.Position*position
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
