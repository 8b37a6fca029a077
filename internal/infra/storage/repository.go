package storage

import (
	"context"
	"errors"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

var (
	// ErrRecordNotFound is returned when a call record doesn't exist
	ErrRecordNotFound = errors.New("call record not found")
)

// CallRepository stores the journal of finished envelope invocations.
type CallRepository interface {
	// Save saves a record, replacing any record with the same ID
	Save(ctx context.Context, rec *domain.CallRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*domain.CallRecord, error)

	// Recent returns up to limit records, newest first
	Recent(ctx context.Context, limit int) ([]*domain.CallRecord, error)

	// CountByOutcome counts records per outcome
	CountByOutcome(ctx context.Context) (map[domain.CallOutcome]int, error)
}
