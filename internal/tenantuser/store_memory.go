package tenantuser

import (
	"context"
	"sync"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

type uniqueKey struct {
	tenant id.TenantID
	value  string
}

// InMemoryStore is a process-local Store for tests and local development.
type InMemoryStore struct {
	mu         sync.Mutex
	users      map[id.UserID]*User
	byEmail    map[uniqueKey]id.UserID
	byUsername map[uniqueKey]id.UserID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[id.UserID]*User),
		byEmail:    make(map[uniqueKey]id.UserID),
		byUsername: make(map[uniqueKey]id.UserID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := uniqueKey{u.TenantID, u.Email}
	usernameKey := uniqueKey{u.TenantID, u.Username}
	if _, exists := s.byEmail[emailKey]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byUsername[usernameKey]; exists {
		return sentinel.ErrConflict
	}

	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[emailKey] = u.ID
	s.byUsername[usernameKey] = u.ID
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, tenantID id.TenantID, userID id.UserID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) GetByEmail(_ context.Context, tenantID id.TenantID, normalizedEmail string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.byEmail[uniqueKey{tenantID, normalizedEmail}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.users[userID]
	return &cp, nil
}

func (s *InMemoryStore) GetByUsername(_ context.Context, tenantID id.TenantID, normalizedUsername string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.byUsername[uniqueKey{tenantID, normalizedUsername}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.users[userID]
	return &cp, nil
}

func (s *InMemoryStore) Save(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if ok && existing.Version != u.Version {
		return sentinel.ErrConflict
	}
	if ok {
		delete(s.byEmail, uniqueKey{existing.TenantID, existing.Email})
		delete(s.byUsername, uniqueKey{existing.TenantID, existing.Username})
	}

	cp := *u
	cp.Version++
	s.users[u.ID] = &cp
	s.byEmail[uniqueKey{u.TenantID, u.Email}] = u.ID
	s.byUsername[uniqueKey{u.TenantID, u.Username}] = u.ID
	u.Version = cp.Version
	return nil
}
