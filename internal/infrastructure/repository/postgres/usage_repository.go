package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT,
	caller_type TEXT NOT NULL,
	request_type TEXT NOT NULL,
	source TEXT,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	extras JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_time ON usage_events(tenant_id, occurred_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// InsertUsageEvent is idempotent on the event id so redelivered messages are
// recorded once.
func (r *UsageRepository) InsertUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	if event.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "insert usage event", fmt.Errorf("event id is required"))
	}
	extras := event.Extras
	if extras == nil {
		extras = map[string]any{}
	}
	extrasJSON, err := json.Marshal(extras)
	if err != nil {
		return fmt.Errorf("marshal extras: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO usage_events (
	id, tenant_id, user_id, caller_type, request_type, source, model, input_tokens, output_tokens, extras, occurred_at, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO NOTHING
`,
		event.ID, event.TenantID, nullString(event.UserID), event.CallerType, string(event.RequestType),
		nullString(event.Source), event.Model, event.InputTokens, event.OutputTokens, extrasJSON,
		event.OccurredAt, time.Now().UTC(),
	)
	if err != nil {
		return classifyQueryError("insert usage event", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
