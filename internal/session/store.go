package session

import (
	"context"

	id "aegis/pkg/domain"
)

// Store persists sessions, looked up exclusively by tenant-scoped ID or
// by TokenHash — spec.md §4.2's "session hash is the only lookup index"
// invariant.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*Session, error)
	GetByTokenHash(ctx context.Context, tenantID id.TenantID, hash [32]byte) (*Session, error)
	// ListActiveByUser returns active sessions ordered oldest-last-activity
	// first, so the caller can evict index 0 on a concurrency overflow.
	ListActiveByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*Session, error)
	// ListActiveByCredential supports mark-compromised's "terminate all
	// sessions of the owning user that referenced it" rule (spec.md §4.3).
	ListActiveByCredential(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]*Session, error)
	// Save performs an optimistic-concurrency update keyed on ID,
	// incrementing Version. A version mismatch returns sentinel.ErrConflict.
	Save(ctx context.Context, s *Session) error
}
