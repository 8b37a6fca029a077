package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

// Provider fetches credentials. FileProvider is the production source.
type Provider interface {
	Fetch(ctx context.Context) (domain.Credential, error)
}

// TokenStore persists a credential between invocations. Get returns a zero
// credential and no error when nothing is stored.
type TokenStore interface {
	Get(ctx context.Context) (domain.Credential, error)
	Set(ctx context.Context, cred domain.Credential) error
	Clear(ctx context.Context) error
}

// CachedProvider reuses a stored credential until it expires.
type CachedProvider struct {
	source Provider
	store  TokenStore
	now    func() time.Time

	mu sync.Mutex
}

// NewCachedProvider wraps source with store. A nil store keeps the token
// in process memory.
func NewCachedProvider(source Provider, store TokenStore) *CachedProvider {
	if store == nil {
		store = NewMemoryStore()
	}
	return &CachedProvider{source: source, store: store, now: time.Now}
}

// Fetch returns the stored credential if it is still valid, otherwise it
// fetches and stores a new one. Store read failures fall through to the
// source.
func (p *CachedProvider) Fetch(ctx context.Context) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, err := p.store.Get(ctx)
	if err != nil {
		slog.Warn("Token store read failed", "error", err)
	} else if !cred.IsZero() && !cred.Expired(p.now()) {
		return cred, nil
	}
	return p.fetchLocked(ctx)
}

// Refresh discards any stored credential and fetches a new one.
func (p *CachedProvider) Refresh(ctx context.Context) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Clear(ctx); err != nil {
		slog.Warn("Token store clear failed", "error", err)
	}
	return p.fetchLocked(ctx)
}

func (p *CachedProvider) fetchLocked(ctx context.Context) (domain.Credential, error) {
	cred, err := p.source.Fetch(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	if err := p.store.Set(ctx, cred); err != nil {
		slog.Warn("Token store write failed", "error", err)
	}
	return cred, nil
}

// MemoryStore is a TokenStore held in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	cred domain.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

func (s *MemoryStore) Set(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = domain.Credential{}
	return nil
}
