package risk

import (
	"context"
	"sync"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

type profileKey struct {
	tenant id.TenantID
	user   id.UserID
}

// InMemoryStore is a process-local Store for tests and local development.
type InMemoryStore struct {
	mu       sync.Mutex
	profiles map[profileKey]*Profile
	events   map[id.RiskEventID]*Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[profileKey]*Profile),
		events:   make(map[id.RiskEventID]*Event),
	}
}

func (s *InMemoryStore) GetProfile(_ context.Context, tenantID id.TenantID, userID id.UserID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey{tenantID, userID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	cp.recentScores = append([]float64(nil), p.recentScores...)
	return &cp, nil
}

func (s *InMemoryStore) SaveProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{p.TenantID, p.UserID}
	existing, ok := s.profiles[key]
	if ok && existing.Version != p.Version {
		return sentinel.ErrConflict
	}
	cp := *p
	cp.Version++
	cp.recentScores = append([]float64(nil), p.recentScores...)
	s.profiles[key] = &cp
	p.Version = cp.Version
	return nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetEvent(_ context.Context, tenantID id.TenantID, eventID id.RiskEventID) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if e.TenantID != filter.TenantID {
			continue
		}
		if !filter.UserID.IsNil() && e.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateEventStatus(_ context.Context, tenantID id.TenantID, eventID id.RiskEventID, status EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	if !CanTransition(e.Status, status) {
		return sentinel.ErrInvalidState
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	return nil
}
