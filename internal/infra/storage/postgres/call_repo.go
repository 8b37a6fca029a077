package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/infra/storage"
)

// CallRepo implements storage.CallRepository using PostgreSQL.
type CallRepo struct {
	db *DB
}

// NewCallRepo creates a new PostgreSQL call repository.
func NewCallRepo(db *DB) *CallRepo {
	return &CallRepo{db: db}
}

const callColumns = `id, method, kind, outcome, attempts, refreshes, code, detail, messages, handler_failures, started_at, duration_ns`

// Save saves a call record to the database.
func (r *CallRepo) Save(ctx context.Context, rec *domain.CallRecord) error {
	query := `
		INSERT INTO call_records (` + callColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			attempts = EXCLUDED.attempts,
			refreshes = EXCLUDED.refreshes,
			code = EXCLUDED.code,
			detail = EXCLUDED.detail,
			messages = EXCLUDED.messages,
			handler_failures = EXCLUDED.handler_failures,
			duration_ns = EXCLUDED.duration_ns
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Method,
		string(rec.Kind),
		string(rec.Outcome),
		rec.Attempts,
		rec.Refreshes,
		rec.Code,
		rec.Detail,
		rec.Messages,
		rec.HandlerFailures,
		rec.StartedAt,
		int64(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// Get retrieves a call record by ID.
func (r *CallRepo) Get(ctx context.Context, id string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+callColumns+` FROM call_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &rec, nil
}

// Recent returns the newest records first.
func (r *CallRepo) Recent(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var recs []*domain.CallRecord
	query := `SELECT ` + callColumns + ` FROM call_records ORDER BY started_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return recs, nil
}

// CountByOutcome counts records per outcome.
func (r *CallRepo) CountByOutcome(ctx context.Context) (map[domain.CallOutcome]int, error) {
	var rows []struct {
		Outcome string `db:"outcome"`
		Count   int    `db:"count"`
	}
	query := `SELECT outcome, COUNT(*) AS count FROM call_records GROUP BY outcome`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count call records: %w", err)
	}

	counts := make(map[domain.CallOutcome]int, len(rows))
	for _, row := range rows {
		counts[domain.CallOutcome(row.Outcome)] = row.Count
	}
	return counts, nil
}
