package identity

import (
	"context"
	"strings"
	"sync"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

type primaryKey struct {
	tenant  id.TenantID
	keyType PrimaryKeyType
	value   string
}

// InMemoryStore is a process-local Store for tests and local development.
type InMemoryStore struct {
	mu          sync.Mutex
	persons     map[id.PersonID]*Person
	identities  map[id.IdentityID]*Identity
	byPrimary   map[primaryKey]id.IdentityID
	contexts    map[id.ContextID]*Context
	attributes  map[id.AttributeID]*Attribute
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		persons:    make(map[id.PersonID]*Person),
		identities: make(map[id.IdentityID]*Identity),
		byPrimary:  make(map[primaryKey]id.IdentityID),
		contexts:   make(map[id.ContextID]*Context),
		attributes: make(map[id.AttributeID]*Attribute),
	}
}

func (s *InMemoryStore) CreatePerson(_ context.Context, p *Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.persons[p.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetPerson(_ context.Context, tenantID id.TenantID, personID id.PersonID) (*Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[personID]
	if !ok || p.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) CreateIdentity(_ context.Context, i *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := primaryKey{i.TenantID, i.PrimaryKeyType, i.PrimaryKeyValue}
	if _, exists := s.byPrimary[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *i
	s.identities[i.ID] = &cp
	s.byPrimary[key] = i.ID
	return nil
}

func (s *InMemoryStore) GetIdentity(_ context.Context, tenantID id.TenantID, identityID id.IdentityID) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.identities[identityID]
	if !ok || i.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *InMemoryStore) FindIdentityByPrimaryKey(_ context.Context, tenantID id.TenantID, keyType PrimaryKeyType, keyValue string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identityID, ok := s.byPrimary[primaryKey{tenantID, keyType, keyValue}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.identities[identityID]
	return &cp, nil
}

func (s *InMemoryStore) ListIdentitiesByPerson(_ context.Context, tenantID id.TenantID, personID id.PersonID) ([]*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Identity
	for _, i := range s.identities {
		if i.TenantID == tenantID && i.PersonID == personID {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateContext(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.TrustHistory = append([]TrustScoreEntry(nil), c.TrustHistory...)
	s.contexts[c.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetContext(_ context.Context, tenantID id.TenantID, contextID id.ContextID) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[contextID]
	if !ok || c.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	cp.TrustHistory = append([]TrustScoreEntry(nil), c.TrustHistory...)
	return &cp, nil
}

func (s *InMemoryStore) SaveContext(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contexts[c.ID]
	if ok && existing.Version != c.Version {
		return sentinel.ErrConflict
	}
	cp := *c
	cp.Version++
	cp.TrustHistory = append([]TrustScoreEntry(nil), c.TrustHistory...)
	s.contexts[c.ID] = &cp
	c.Version = cp.Version
	return nil
}

func (s *InMemoryStore) ListContextsByIdentity(_ context.Context, tenantID id.TenantID, identityID id.IdentityID) ([]*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Context
	for _, c := range s.contexts {
		if c.TenantID == tenantID && c.IdentityID == identityID {
			cp := *c
			cp.TrustHistory = append([]TrustScoreEntry(nil), c.TrustHistory...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateAttribute(_ context.Context, a *Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attributes[a.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetAttribute(_ context.Context, tenantID id.TenantID, attributeID id.AttributeID) (*Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attributes[attributeID]
	if !ok || a.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) SaveAttribute(_ context.Context, a *Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.attributes[a.ID]
	if ok && existing.Version != a.Version {
		return sentinel.ErrConflict
	}
	cp := *a
	cp.Version++
	s.attributes[a.ID] = &cp
	a.Version = cp.Version
	return nil
}

func (s *InMemoryStore) ListAttributesByContext(_ context.Context, tenantID id.TenantID, contextID id.ContextID) ([]*Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attribute
	for _, a := range s.attributes {
		if a.TenantID == tenantID && a.ContextID == contextID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SearchAttributes(_ context.Context, filter AttributeFilter) ([]*Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attribute
	for _, a := range s.attributes {
		if a.TenantID != filter.TenantID {
			continue
		}
		if !filter.ContextID.IsNil() && a.ContextID != filter.ContextID {
			continue
		}
		if filter.Key != "" && a.Key != filter.Key {
			continue
		}
		if filter.ValueQuery != "" && !strings.Contains(strings.ToLower(a.Value), strings.ToLower(filter.ValueQuery)) {
			continue
		}
		if filter.Sensitivity != nil && a.Sensitivity != *filter.Sensitivity {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
