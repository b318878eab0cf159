package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

type HyDEConfig struct {
	Timeout   time.Duration
	MaxTokens int
	// MaxLength caps the passage appended to the query, in runes.
	MaxLength int
}

func (c HyDEConfig) normalize() HyDEConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 200
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 800
	}
	return c
}

// QueryExpander enriches terse queries with a hypothetical answer passage
// before embedding.
type QueryExpander struct {
	generator ports.TextGenerator
	usage     ports.UsageRecorder
	cfg       HyDEConfig
	logger    *slog.Logger
}

func NewQueryExpander(generator ports.TextGenerator, usage ports.UsageRecorder, cfg HyDEConfig, logger *slog.Logger) *QueryExpander {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryExpander{
		generator: generator,
		usage:     usage,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

// Expand returns the text to embed. It never fails: on any generator problem
// the original query comes back unchanged.
func (e *QueryExpander) Expand(ctx context.Context, query string, uc domain.UsageContext) string {
	start := time.Now()
	passage, err := e.generate(ctx, query, uc)
	if err != nil {
		e.logger.Warn("hyde_fallback",
			"tenant_id", uc.TenantID,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", err,
		)
		return query
	}
	return query + "\n\n" + truncateRunes(passage, e.cfg.MaxLength)
}

func (e *QueryExpander) generate(ctx context.Context, query string, uc domain.UsageContext) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	gen, err := e.generator.Generate(callCtx, buildHyDEPrompt(query), e.cfg.MaxTokens)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("generator timed out after %s: %w", e.cfg.Timeout, err)
		}
		return "", fmt.Errorf("generate passage: %w", err)
	}

	if e.usage != nil {
		e.usage.Record(domain.NewUsageEvent(uc, domain.UsageHyDE, gen.Model, gen.Usage))
	}

	passage := strings.TrimSpace(gen.Text)
	if passage == "" {
		return "", fmt.Errorf("generator returned an empty passage")
	}
	return passage, nil
}

func buildHyDEPrompt(query string) string {
	return fmt.Sprintf(`Write a short passage of about 100 words that directly answers the question below,
as if it were an excerpt from an internal knowledge base document.
Do not mention that the passage is hypothetical. No headings, no lists.

Question:
%s
`, query)
}
