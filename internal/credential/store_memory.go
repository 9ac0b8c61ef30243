package credential

import (
	"context"
	"sync"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// InMemoryStore is a process-local Store, used in unit tests and local
// development without Postgres.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[id.CredentialID]*Credential
	byHash map[[32]byte]id.CredentialID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.CredentialID]*Credential),
		byHash: make(map[[32]byte]id.CredentialID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[c.CredentialIDHash]; exists {
		return sentinel.ErrConflict
	}
	cp := *c
	s.byID[c.ID] = &cp
	s.byHash[c.CredentialIDHash] = c.ID
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, tenantID id.TenantID, credID id.CredentialID) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[credID]
	if !ok || c.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) GetByHash(_ context.Context, hash [32]byte) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[credID]
	return &cp, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, tenantID id.TenantID, userID id.UserID) ([]*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Credential
	for _, c := range s.byID {
		if c.TenantID == tenantID && c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateUsage implements the §4.1/§4.3 counter-checking protocol: a
// non-increasing counter on a credential that has already been used
// atomically flips it to suspicious instead of advancing usage state.
func (s *InMemoryStore) UpdateUsage(_ context.Context, tenantID id.TenantID, credID id.CredentialID, newCount uint32, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[credID]
	if !ok || c.TenantID != tenantID {
		return sentinel.ErrNotFound
	}

	if newCount <= c.SignCount && c.SignCount != 0 {
		c.Status = StatusSuspicious
		c.Flags.SuspiciousCounterJump = true
		c.UpdatedAt = usedAt
		return sentinel.ErrCounterRollback
	}

	c.SignCount = newCount
	c.LastUsedAt = usedAt
	c.UsageCount++
	c.UpdatedAt = usedAt
	return nil
}

func (s *InMemoryStore) MarkSuspicious(_ context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.transition(tenantID, credID, StatusSuspicious)
}

func (s *InMemoryStore) MarkCompromised(_ context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[credID]
	if !ok || c.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	c.Status = StatusCompromised
	c.Flags.HighRisk = true
	now := time.Now()
	c.RevokedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Revoke(_ context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[credID]
	if !ok || c.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	c.Status = StatusRevoked
	now := time.Now()
	c.RevokedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Expire(_ context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.transition(tenantID, credID, StatusExpired)
}

func (s *InMemoryStore) Quarantine(_ context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.transition(tenantID, credID, StatusQuarantined)
}

func (s *InMemoryStore) transition(tenantID id.TenantID, credID id.CredentialID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[credID]
	if !ok || c.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}
