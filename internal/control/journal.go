package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
	"github.com/vietddude/fleetcall/internal/infra/storage"
)

// Journal records the terminal event of each invocation in a repository.
// Storage failures are logged and never reach the caller.
type Journal struct {
	repo    storage.CallRepository
	timeout time.Duration
	log     *slog.Logger
}

// NewJournal creates a journal observer backed by repo.
func NewJournal(repo storage.CallRepository) *Journal {
	return &Journal{repo: repo, timeout: 5 * time.Second, log: slog.Default()}
}

func (j *Journal) Observe(e retry.Event) {
	if !e.State.Terminal() {
		return
	}

	rec := &domain.CallRecord{
		ID:              uuid.NewString(),
		Method:          e.Method,
		Kind:            e.Kind,
		Outcome:         e.State.Outcome(),
		Attempts:        e.Attempt,
		Refreshes:       e.Refreshes,
		Code:            e.Code.String(),
		Detail:          e.Detail,
		Messages:        e.Messages,
		HandlerFailures: e.HandlerFailures,
		StartedAt:       e.Started,
		Duration:        e.Elapsed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.repo.Save(ctx, rec); err != nil {
		j.log.Warn("Failed to record call", "method", e.Method, "outcome", rec.Outcome, "error", err)
	}
}
