package webauthn

import (
	"context"
	"sync"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// ChallengeStore persists the single-use, TTL-bound challenges §4.1
// step 1 requires. Consume must delete the challenge atomically with
// the match check so a replayed attestation/assertion can never reuse it.
type ChallengeStore interface {
	Put(ctx context.Context, c Challenge) error
	// Consume looks up the challenge by id and purpose, verifies it has
	// not expired, deletes it, and returns it. A second call with the
	// same id always fails with sentinel.ErrNotFound.
	Consume(ctx context.Context, tenantID id.TenantID, challengeID id.ChallengeID, purpose Purpose) (Challenge, error)
}

// MemoryChallengeStore is an in-process ChallengeStore for tests and
// single-instance deployments; production deployments back this with
// Redis for the same reason internal/auth/store/revocation does — the
// TTL state must be shared across server instances.
type MemoryChallengeStore struct {
	mu    sync.Mutex
	byKey map[id.ChallengeID]Challenge
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{byKey: make(map[id.ChallengeID]Challenge)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[c.ID] = c
	return nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, tenantID id.TenantID, challengeID id.ChallengeID, purpose Purpose) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byKey[challengeID]
	if !ok || c.TenantID != tenantID || c.Purpose != purpose {
		return Challenge{}, sentinel.ErrNotFound
	}
	delete(s.byKey, challengeID)

	if time.Now().After(c.ExpiresAt) {
		return Challenge{}, sentinel.ErrExpired
	}
	return c, nil
}
