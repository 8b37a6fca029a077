package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/infra/storage"
)

// CallRepo implements storage.CallRepository in process memory.
type CallRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.CallRecord
}

func NewCallRepo() *CallRepo {
	return &CallRepo{records: make(map[string]*domain.CallRecord)}
}

func (r *CallRepo) Save(_ context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *CallRepo) Get(_ context.Context, id string) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *CallRepo) Recent(_ context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.CallRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CallRepo) CountByOutcome(context.Context) (map[domain.CallOutcome]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.CallOutcome]int)
	for _, rec := range r.records {
		counts[rec.Outcome]++
	}
	return counts, nil
}
