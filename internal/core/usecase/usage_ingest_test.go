package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

type usageStoreFake struct {
	events []domain.UsageEvent
	err    error
}

func (f *usageStoreFake) EnsureSchema(context.Context) error { return nil }

func (f *usageStoreFake) InsertUsageEvent(_ context.Context, event domain.UsageEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestUsageIngestStoresValidEvent(t *testing.T) {
	store := &usageStoreFake{}
	uc := NewUsageIngestUseCase(store, nil)

	event := domain.UsageEvent{ID: "e1", TenantID: testTenant, RequestType: domain.UsageRerank, InputTokens: 12}
	if err := uc.Ingest(context.Background(), event); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(store.events) != 1 || store.events[0].ID != "e1" {
		t.Fatalf("unexpected stored events %+v", store.events)
	}
}

func TestUsageIngestStoresCanonicalTenantID(t *testing.T) {
	store := &usageStoreFake{}
	event := domain.UsageEvent{ID: "e1", TenantID: "urn:uuid:" + strings.ToUpper(testTenant), RequestType: domain.UsageEmbedding}
	if err := NewUsageIngestUseCase(store, nil).Ingest(context.Background(), event); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(store.events) != 1 || store.events[0].TenantID != testTenant {
		t.Fatalf("expected canonical tenant id, got %+v", store.events)
	}
}

func TestUsageIngestRejectsInvalidEvents(t *testing.T) {
	tests := []struct {
		name  string
		event domain.UsageEvent
	}{
		{name: "missing id", event: domain.UsageEvent{TenantID: testTenant, RequestType: domain.UsageHyDE}},
		{name: "bad tenant", event: domain.UsageEvent{ID: "e", TenantID: "acme", RequestType: domain.UsageHyDE}},
		{name: "unknown type", event: domain.UsageEvent{ID: "e", TenantID: testTenant, RequestType: "chat"}},
		{name: "negative tokens", event: domain.UsageEvent{ID: "e", TenantID: testTenant, RequestType: domain.UsageHyDE, OutputTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &usageStoreFake{}
			err := NewUsageIngestUseCase(store, nil).Ingest(context.Background(), tt.event)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if len(store.events) != 0 {
				t.Fatalf("invalid event must not be stored")
			}
		})
	}
}

func TestUsageIngestPropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	uc := NewUsageIngestUseCase(&usageStoreFake{err: boom}, nil)
	err := uc.Ingest(context.Background(), domain.UsageEvent{ID: "e", TenantID: testTenant, RequestType: domain.UsageEmbedding})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
