package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

const (
	StageVector  = "vector"
	StageLexical = "lexical"
	StageFuzzy   = "fuzzy"
)

// SignalResults holds one ranked list per retrieval signal.
type SignalResults struct {
	Vector  []domain.SearchResult
	Lexical []domain.SearchResult
	Fuzzy   []domain.SearchResult
}

// MultiSignalRetriever runs the vector, lexical and fuzzy queries concurrently.
type MultiSignalRetriever struct {
	corpus   ports.CorpusSearcher
	observer SearchObserver
	logger   *slog.Logger
}

func NewMultiSignalRetriever(corpus ports.CorpusSearcher, observer SearchObserver, logger *slog.Logger) *MultiSignalRetriever {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSignalRetriever{
		corpus:   corpus,
		observer: observer,
		logger:   logger,
	}
}

// Retrieve fails if the vector or lexical signal fails. The fuzzy signal is
// optional infrastructure: its errors are logged and it contributes nothing.
func (r *MultiSignalRetriever) Retrieve(
	ctx context.Context,
	vector []float32,
	query string,
	scope domain.SearchScope,
) (SignalResults, error) {
	var out SignalResults
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		results, err := r.corpus.SearchVector(gctx, vector, scope)
		r.observer.ObserveStage(StageVector, time.Since(start))
		if err != nil {
			return fmt.Errorf("vector signal: %w", err)
		}
		out.Vector = results
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		results, err := r.corpus.SearchFullText(gctx, query, scope)
		r.observer.ObserveStage(StageLexical, time.Since(start))
		if err != nil {
			return fmt.Errorf("lexical signal: %w", err)
		}
		out.Lexical = results
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		results, err := r.corpus.SearchTrigram(gctx, query, scope)
		duration := time.Since(start)
		r.observer.ObserveStage(StageFuzzy, duration)
		if err != nil {
			reason := "error"
			if domain.IsKind(err, domain.ErrFeatureUnavailable) {
				reason = "unavailable"
			}
			r.observer.RecordDegradation(StageFuzzy, reason)
			r.logger.Warn("signal_degraded",
				"stage", StageFuzzy,
				"tenant_id", scope.TenantID,
				"reason", reason,
				"duration_ms", float64(duration.Microseconds())/1000.0,
				"error", err,
			)
			return nil
		}
		out.Fuzzy = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return SignalResults{}, err
	}
	return out, nil
}
