package audit

import (
	"context"
	"sync"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// MemoryStore is an in-process Store keyed by tenant, used by service
// tests and local development. It applies the same per-tenant chaining
// as the Postgres store so chain-verification tests can run against
// either backend.
type MemoryStore struct {
	mu       sync.Mutex
	byTenant map[id.TenantID][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: make(map[id.TenantID][]Event)}
}

func (s *MemoryStore) Append(_ context.Context, e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byTenant[e.TenantID]
	prevHash, prevSeq := genesisChainHash, int64(0)
	if n := len(chain); n > 0 {
		prevHash, prevSeq = chain[n-1].ChainHash, chain[n-1].Sequence
	}

	e.EventHash = eventHash(e)
	e.ChainHash = chainHash(prevHash, e.EventHash)
	e.Sequence = prevSeq + 1
	if e.Category == "" {
		e.Category = e.EventType.Category()
	}
	if e.RetentionUntil.IsZero() {
		e.RetentionUntil = e.Timestamp.Add(RetentionFor(e.EventType))
	}

	s.byTenant[e.TenantID] = append(chain, e)
	return e, nil
}

func (s *MemoryStore) GetByID(_ context.Context, tenantID id.TenantID, eventID id.AuditEventID) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.byTenant[tenantID] {
		if e.ID == eventID {
			return e, nil
		}
	}
	return Event{}, sentinel.ErrNotFound
}

func (s *MemoryStore) ListBySequenceRange(_ context.Context, tenantID id.TenantID, r SequenceRange) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.byTenant[tenantID] {
		if e.Sequence >= r.Start && e.Sequence <= r.End {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUserTimeRange(_ context.Context, tenantID id.TenantID, userID id.UserID, r TimeRange) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.byTenant[tenantID] {
		if e.UserID != userID {
			continue
		}
		if e.Timestamp.Before(r.From) || e.Timestamp.After(r.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListByFramework filters by a compliance-framework tag carried in
// Metadata["compliance_framework"], since the in-memory store has no
// separate framework index.
func (s *MemoryStore) ListByFramework(_ context.Context, tenantID id.TenantID, framework string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.byTenant[tenantID] {
		if tag, ok := e.Metadata["compliance_framework"].(string); ok && tag == framework {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ChainHead(_ context.Context, tenantID id.TenantID) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byTenant[tenantID]
	if len(chain) == 0 {
		return 0, genesisChainHash, nil
	}
	last := chain[len(chain)-1]
	return last.Sequence, last.ChainHash, nil
}

func (s *MemoryStore) Walk(_ context.Context, tenantID id.TenantID, fn func(Event) error) error {
	s.mu.Lock()
	chain := append([]Event(nil), s.byTenant[tenantID]...)
	s.mu.Unlock()

	for _, e := range chain {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
