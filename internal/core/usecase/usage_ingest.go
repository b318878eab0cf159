package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

// UsageIngestUseCase persists usage events consumed by the worker.
type UsageIngestUseCase struct {
	store  ports.UsageStore
	logger *slog.Logger
}

func NewUsageIngestUseCase(store ports.UsageStore, logger *slog.Logger) *UsageIngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageIngestUseCase{store: store, logger: logger}
}

func (uc *UsageIngestUseCase) Ingest(ctx context.Context, event domain.UsageEvent) error {
	event, err := validateUsageEvent(event)
	if err != nil {
		return err
	}
	if err := uc.store.InsertUsageEvent(ctx, event); err != nil {
		return fmt.Errorf("store usage event: %w", err)
	}
	uc.logger.Debug("usage_event_recorded",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"request_type", string(event.RequestType),
		"input_tokens", event.InputTokens,
		"output_tokens", event.OutputTokens,
	)
	return nil
}

// validateUsageEvent returns the event with its tenant id in canonical form.
func validateUsageEvent(event domain.UsageEvent) (domain.UsageEvent, error) {
	if strings.TrimSpace(event.ID) == "" {
		return event, domain.WrapError(domain.ErrInvalidInput, "ingest usage", fmt.Errorf("event id is required"))
	}
	tenantID, err := domain.NormalizeTenantID(event.TenantID)
	if err != nil {
		return event, domain.WrapError(domain.ErrInvalidInput, "ingest usage", err)
	}
	event.TenantID = tenantID
	switch event.RequestType {
	case domain.UsageEmbedding, domain.UsageHyDE, domain.UsageRerank:
	default:
		return event, domain.WrapError(domain.ErrInvalidInput, "ingest usage", fmt.Errorf("unknown request type %q", event.RequestType))
	}
	if event.InputTokens < 0 || event.OutputTokens < 0 {
		return event, domain.WrapError(domain.ErrInvalidInput, "ingest usage", fmt.Errorf("token counts must be non-negative"))
	}
	return event, nil
}
