package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

const DefaultContextPreviewLength = 200

// ContextExpander attaches previews of the previous and next chunk of the
// same document to each result.
type ContextExpander struct {
	reader        ports.ChunkNeighborReader
	previewLength int
	logger        *slog.Logger
}

func NewContextExpander(reader ports.ChunkNeighborReader, previewLength int, logger *slog.Logger) *ContextExpander {
	if previewLength <= 0 {
		previewLength = DefaultContextPreviewLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextExpander{
		reader:        reader,
		previewLength: previewLength,
		logger:        logger,
	}
}

// Expand returns a copy of results with ContextBefore/ContextAfter set where
// a neighbour exists. Store failures leave the results untouched.
func (e *ContextExpander) Expand(ctx context.Context, tenantID string, results []domain.SearchResult) []domain.SearchResult {
	if len(results) == 0 {
		return results
	}
	expanded, err := e.expand(ctx, tenantID, results)
	if err != nil {
		e.logger.Warn("context_expansion_skipped",
			"tenant_id", tenantID,
			"results", len(results),
			"error", err,
		)
		return results
	}
	return expanded
}

func (e *ContextExpander) expand(ctx context.Context, tenantID string, results []domain.SearchResult) ([]domain.SearchResult, error) {
	chunkIDs := make([]string, len(results))
	for i, r := range results {
		chunkIDs[i] = r.ChunkID
	}

	positions, err := e.reader.ChunkPositions(ctx, tenantID, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunk positions: %w", err)
	}

	keys := neighborKeys(results, positions)
	if len(keys) == 0 {
		return results, nil
	}

	contents, err := e.reader.NeighborContents(ctx, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("load neighbor contents: %w", err)
	}

	out := make([]domain.SearchResult, len(results))
	for i, r := range results {
		pos, ok := positions[r.ChunkID]
		if ok {
			if pos.SequenceIndex > 0 {
				if text, found := contents[domain.ChunkPosition{DocumentID: pos.DocumentID, SequenceIndex: pos.SequenceIndex - 1}]; found {
					preview := truncateRunes(text, e.previewLength)
					r.ContextBefore = &preview
				}
			}
			if text, found := contents[domain.ChunkPosition{DocumentID: pos.DocumentID, SequenceIndex: pos.SequenceIndex + 1}]; found {
				preview := truncateRunes(text, e.previewLength)
				r.ContextAfter = &preview
			}
		}
		out[i] = r
	}
	return out, nil
}

// neighborKeys lists the deduplicated (document, sequence) pairs adjacent to
// the results, in first-seen order.
func neighborKeys(results []domain.SearchResult, positions map[string]domain.ChunkPosition) []domain.ChunkPosition {
	seen := make(map[domain.ChunkPosition]struct{}, len(results)*2)
	keys := make([]domain.ChunkPosition, 0, len(results)*2)
	add := func(k domain.ChunkPosition) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, r := range results {
		pos, ok := positions[r.ChunkID]
		if !ok {
			continue
		}
		if pos.SequenceIndex > 0 {
			add(domain.ChunkPosition{DocumentID: pos.DocumentID, SequenceIndex: pos.SequenceIndex - 1})
		}
		add(domain.ChunkPosition{DocumentID: pos.DocumentID, SequenceIndex: pos.SequenceIndex + 1})
	}
	return keys
}
