package webauthn

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"

	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore is the multi-instance-safe ChallengeStore
// SPEC_FULL.md §3's domain stack assigns to webauthn: challenges are
// short-lived by nature, so TTL-backed Redis storage avoids a table
// scan/cleanup job that a Postgres-backed store would need, the same
// reasoning the teacher applies to its revocation store.
type RedisChallengeStore struct {
	client redis.Cmdable
}

func NewRedisChallengeStore(client redis.Cmdable) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func challengeKey(challengeID id.ChallengeID) string {
	return "webauthn:challenge:" + challengeID.String()
}

// wireChallenge is the JSON shape stored in Redis; Challenge's ID
// fields are distinct named UUID types with no JSON marshaler of their
// own, so they're carried as strings on the wire.
type wireChallenge struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Purpose   Purpose   `json:"purpose"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisChallengeStore) Put(ctx context.Context, c Challenge) error {
	payload, err := json.Marshal(wireChallenge{
		ID:        c.ID.String(),
		TenantID:  c.TenantID.String(),
		UserID:    c.UserID.String(),
		Purpose:   c.Purpose,
		Value:     c.Value,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	})
	if err != nil {
		return err
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	return s.client.Set(ctx, challengeKey(c.ID), payload, ttl).Err()
}

// Consume uses GETDEL for the atomic fetch-and-delete spec.md §4.1
// requires, so a replayed ceremony can never observe the same
// challenge twice even across concurrent requests.
func (s *RedisChallengeStore) Consume(ctx context.Context, tenantID id.TenantID, challengeID id.ChallengeID, purpose Purpose) (Challenge, error) {
	raw, err := s.client.GetDel(ctx, challengeKey(challengeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Challenge{}, err
	}

	var w wireChallenge
	if err := json.Unmarshal(raw, &w); err != nil {
		return Challenge{}, err
	}
	parsedTenantID, err := id.ParseTenantID(w.TenantID)
	if err != nil {
		return Challenge{}, err
	}
	parsedUserID, err := id.ParseUserID(w.UserID)
	if err != nil {
		return Challenge{}, err
	}
	c := Challenge{
		ID:        challengeID,
		TenantID:  parsedTenantID,
		UserID:    parsedUserID,
		Purpose:   w.Purpose,
		Value:     w.Value,
		CreatedAt: w.CreatedAt,
		ExpiresAt: w.ExpiresAt,
	}
	if c.TenantID != tenantID || c.Purpose != purpose {
		return Challenge{}, sentinel.ErrNotFound
	}
	if time.Now().After(c.ExpiresAt) {
		return Challenge{}, sentinel.ErrExpired
	}
	return c, nil
}
