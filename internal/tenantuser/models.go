// Package tenantuser implements the tenant/user aggregate from spec.md
// §4.7: user lifecycle, lockout after repeated failed logins, and
// soft-delete via tombstone rewriting rather than physical deletion.
package tenantuser

import (
	"time"

	id "aegis/pkg/domain"
)

// User is the per-tenant account record spec.md §3 names. Email and
// Username are always stored lowercase and are unique per tenant;
// soft-deleting a user rewrites both to a tombstone form to free the
// uniqueness slot for a future signup.
type User struct {
	ID                  id.UserID
	TenantID            id.TenantID
	Email               string
	Username            string
	DisplayName         string
	IsActive            bool
	IsVerified          bool
	Locked              bool
	LockUntil           *time.Time
	FailedAttemptCount  int
	LockoutCount        int // how many times this user has been locked, drives progressive backoff
	Locale              string
	Timezone            string
	Preferences         map[string]any
	Metadata            map[string]any
	SoftDeletedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Version             int
}

// maxFailedAttemptsDefault and lockoutDurationDefault mirror spec.md
// §4.7's fixed lockout rule: 5 consecutive failed logins, 30 minutes.
const (
	maxFailedAttemptsDefault = 5
	lockoutDurationDefault   = 30 * time.Minute
)

// IsEffectivelyLocked reports whether u is locked right now, applying
// spec.md §3's "lock-until in the past is effectively unlocked on next
// read" rule without mutating u.
func (u *User) IsEffectivelyLocked(now time.Time) bool {
	if !u.Locked {
		return false
	}
	if u.LockUntil == nil {
		return true
	}
	return u.LockUntil.After(now)
}

// IsSoftDeleted reports whether u has been tombstoned.
func (u *User) IsSoftDeleted() bool {
	return u.SoftDeletedAt != nil
}

// tombstoneEmail and tombstoneUsername implement spec.md §4.7's
// soft-delete rewrite rule.
func tombstoneEmail(userID id.UserID) string {
	return "deleted_" + userID.String() + "@deleted.local"
}

func tombstoneUsername(userID id.UserID) string {
	return "deleted_" + userID.String()
}
