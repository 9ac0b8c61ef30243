package credential

import (
	"context"
	"time"

	id "aegis/pkg/domain"
)

// Store persists credentials and exposes the lookup paths §4.3 names.
// UpdateUsage is the only mutation path for SignCount/LastUsedAt/UsageCount
// — it implements the counter-checking protocol atomically so a racing
// pair of assertions can never both succeed with a stale counter.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	GetByID(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) (*Credential, error)
	GetByHash(ctx context.Context, hash [32]byte) (*Credential, error)
	ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*Credential, error)

	// UpdateUsage atomically compares newCount against the stored
	// SignCount. If newCount <= stored count and stored count != 0, the
	// credential is transitioned to StatusSuspicious and
	// ErrCounterRollback is returned; the caller must refuse the
	// assertion. Otherwise SignCount, LastUsedAt and UsageCount advance.
	UpdateUsage(ctx context.Context, tenantID id.TenantID, credID id.CredentialID, newCount uint32, usedAt time.Time) error

	MarkSuspicious(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error
	// MarkCompromised is irreversible: status becomes compromised and
	// Flags.HighRisk is set. Terminating the owning user's sessions that
	// referenced this credential is the caller's (service-layer)
	// responsibility, not the store's.
	MarkCompromised(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error
	Revoke(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error
	Expire(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error
	Quarantine(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error
}
