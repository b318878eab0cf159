package usecase

import (
	"sort"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

const DefaultRRFK = 60

// DefaultSignalWeights weights the vector, lexical and fuzzy lists in that order.
var DefaultSignalWeights = []float64{0.5, 0.3, 0.2}

// Fused is one item after reciprocal rank fusion.
type Fused[T any] struct {
	Item  T
	Score float64
}

type fusedEntry[T any] struct {
	item  T
	score float64
	order int
}

// FuseRankings merges ranked lists (best first) with weighted RRF:
//
//	score(item) = sum_i w_i / (k + rank_i + 1)
//
// with 0-based ranks. Items are identified by key, so an item surfaced by
// several lists accumulates score. A nil or short weights slice falls back to
// DefaultSignalWeights for three lists and 1/N otherwise.
//
// Ties keep the order in which items were first seen (earlier list, then
// earlier rank). That order is reproducible, not meaningful.
func FuseRankings[T any](lists [][]T, weights []float64, k int, key func(T) string) []Fused[T] {
	if k <= 0 {
		k = DefaultRRFK
	}
	weights = resolveWeights(len(lists), weights)

	acc := make(map[string]fusedEntry[T])
	seen := 0
	for listIdx, list := range lists {
		w := weights[listIdx]
		for rank, item := range list {
			id := key(item)
			prev, ok := acc[id]
			next := fusedEntry[T]{
				item:  prev.item,
				score: prev.score + w/float64(k+rank+1),
				order: prev.order,
			}
			if !ok {
				next.item = item
				next.order = seen
				seen++
			}
			acc[id] = next
		}
	}

	entries := make([]fusedEntry[T], 0, len(acc))
	for _, e := range acc {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})

	out := make([]Fused[T], len(entries))
	for i, e := range entries {
		out[i] = Fused[T]{Item: e.item, Score: e.score}
	}
	return out
}

func resolveWeights(n int, weights []float64) []float64 {
	if len(weights) >= n && n > 0 {
		return weights[:n]
	}
	if n == len(DefaultSignalWeights) {
		return DefaultSignalWeights
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// fuseSignals fuses vector, lexical and fuzzy results keyed by chunk id and
// writes the fused score into each result.
func fuseSignals(vector, lexical, fuzzy []domain.SearchResult, weights []float64, rrfK int) []domain.SearchResult {
	fused := FuseRankings(
		[][]domain.SearchResult{vector, lexical, fuzzy},
		weights,
		rrfK,
		func(r domain.SearchResult) string { return r.ChunkID },
	)
	out := make([]domain.SearchResult, len(fused))
	for i, f := range fused {
		r := f.Item
		r.Score = f.Score
		out[i] = r
	}
	return out
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
