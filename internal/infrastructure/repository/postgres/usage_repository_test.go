package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

func newUsageWithMock(t *testing.T) (*UsageRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewUsageRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newUsageWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(2026101501)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usage_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertUsageEvent(t *testing.T) {
	repo, mock, done := newUsageWithMock(t)
	defer done()

	occurred := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO usage_events").
		WithArgs("evt-1", tenant, nil, "api", "rerank", "web", "bge-reranker", 12, 0, []byte(`{"documents":12}`), occurred, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertUsageEvent(context.Background(), domain.UsageEvent{
		ID:          "evt-1",
		Model:       "bge-reranker",
		InputTokens: 12,
		CallerType:  "api",
		RequestType: domain.UsageRerank,
		TenantID:    tenant,
		Source:      "web",
		Extras:      map[string]any{"documents": 12},
		OccurredAt:  occurred,
	})
	if err != nil {
		t.Fatalf("InsertUsageEvent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertUsageEventRequiresID(t *testing.T) {
	repo, _, done := newUsageWithMock(t)
	defer done()

	err := repo.InsertUsageEvent(context.Background(), domain.UsageEvent{TenantID: tenant})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
