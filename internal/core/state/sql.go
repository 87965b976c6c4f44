package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// SQLBackend is the row-level persistence used by SQLStore.
type SQLBackend interface {
	GetDomainState(ctx context.Context, domain string) ([]byte, string, error)
	PutDomainState(ctx context.Context, domain string, payload []byte, mac string, updatedAt time.Time) error
	ListStateDomains(ctx context.Context) ([]string, error)
	AppendCheckHistory(ctx context.Context, result core.CheckResult) error
	PruneCheckHistory(ctx context.Context, domain string, keep int) (int64, error)
}

// SQLStore signs domain state rows held in a SQL database and appends every
// saved result to the check history table.
type SQLStore struct {
	backend SQLBackend
	signer  *Signer
	clock   func() time.Time
	mu      sync.Mutex
}

// NewSQLStore returns a SQL-backed store.
func NewSQLStore(backend SQLBackend, secret string) (*SQLStore, error) {
	if backend == nil {
		return nil, errors.New("sql backend is required")
	}
	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}
	return &SQLStore{backend: backend, signer: signer, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// Get returns the state for domain, or nil if none is stored.
func (s *SQLStore) Get(ctx context.Context, domain string) (*core.DomainState, error) {
	payload, mac, err := s.backend.GetDomainState(ctx, normalizeDomain(domain))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return s.signer.OpenDomain(payload, mac)
}

// Record merges result into the stored state and appends a history row.
func (s *SQLStore) Record(ctx context.Context, result core.CheckResult) (core.DomainState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.Get(ctx, result.Domain)
	if err != nil {
		return core.DomainState{}, err
	}
	next := core.NextDomainState(previous, result)
	if err := s.put(ctx, next); err != nil {
		return core.DomainState{}, err
	}
	if err := s.backend.AppendCheckHistory(ctx, result); err != nil {
		return next, err
	}
	if _, err := s.backend.PruneCheckHistory(ctx, next.Domain, core.MaxHistoryEntries); err != nil {
		return next, err
	}
	return next, nil
}

// MarkNotified stamps the last notification time for domain.
func (s *SQLStore) MarkNotified(ctx context.Context, domain string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Get(ctx, domain)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrNotFound
	}
	stamp := at.UTC()
	st.LastNotified = &stamp
	return s.put(ctx, *st)
}

// Domains lists stored domains.
func (s *SQLStore) Domains(ctx context.Context) ([]string, error) {
	return s.backend.ListStateDomains(ctx)
}

// Close is a no-op; the database lifecycle is managed by the caller.
func (s *SQLStore) Close() error { return nil }

func (s *SQLStore) put(ctx context.Context, st core.DomainState) error {
	payload, mac, err := s.signer.SealDomain(st)
	if err != nil {
		return err
	}
	return s.backend.PutDomainState(ctx, st.Domain, payload, mac, s.clock())
}
