package session

import (
	"context"
	"sort"
	"sync"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// InMemoryStore is a process-local Store for tests and local development.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[id.SessionID]*Session
	byHash   map[[32]byte]id.SessionID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]*Session),
		byHash:   make(map[[32]byte]id.SessionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.byHash[sess.TokenHash] = sess.ID
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, tenantID id.TenantID, sessionID id.SessionID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) GetByTokenHash(_ context.Context, tenantID id.TenantID, hash [32]byte) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	sess := s.sessions[sessionID]
	if sess.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) ListActiveByUser(_ context.Context, tenantID id.TenantID, userID id.UserID) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.UserID == userID && sess.IsActive() {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

func (s *InMemoryStore) ListActiveByCredential(_ context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.CredentialID == credentialID && sess.IsActive() {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.ID]
	if ok && existing.Version != sess.Version {
		return sentinel.ErrConflict
	}
	if ok {
		delete(s.byHash, existing.TokenHash)
	}
	cp := *sess
	cp.Version++
	s.sessions[sess.ID] = &cp
	s.byHash[cp.TokenHash] = sess.ID
	sess.Version = cp.Version
	return nil
}
