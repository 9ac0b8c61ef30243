package tenantuser

import (
	"context"

	id "aegis/pkg/domain"
)

// Store persists tenant-scoped user records, looked up by ID or by the
// normalized (tenant, email)/(tenant, username) uniqueness keys spec.md
// §3 fixes.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error)
	GetByEmail(ctx context.Context, tenantID id.TenantID, normalizedEmail string) (*User, error)
	GetByUsername(ctx context.Context, tenantID id.TenantID, normalizedUsername string) (*User, error)
	// Save performs an optimistic-concurrency update keyed on ID,
	// incrementing Version. A version mismatch returns sentinel.ErrConflict.
	Save(ctx context.Context, u *User) error
}
