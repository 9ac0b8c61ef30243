package tenantuser

import (
	"context"
	"strings"
	"time"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/sentinel"
)

// Policy is the tenant-tunable lockout configuration SPEC_FULL.md §2
// names (`user.maxFailedAttempts`, `user.lockoutMinutes`).
type Policy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// MaxLockoutDuration caps the lockout-duration backoff in
	// lockoutDuration; zero disables the cap.
	MaxLockoutDuration time.Duration
	// BackoffBase is the delay applied before the first failed attempt's
	// retry is accepted; ProgressiveBackoff doubles it per attempt below
	// MaxFailedAttempts, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxFailedAttempts: maxFailedAttemptsDefault,
		LockoutDuration:   lockoutDurationDefault,
		MaxLockoutDuration: 24 * time.Hour,
		BackoffBase:        250 * time.Millisecond,
		BackoffMax:         4 * time.Second,
	}
}

// Service implements the user lifecycle, lockout, and soft-delete
// operations spec.md §4.7 names.
type Service struct {
	store  Store
	audit  *audit.Service
	policy Policy
}

// Option configures a Service.
type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(store Store, auditSvc *audit.Service, opts ...Option) *Service {
	s := &Service{store: store, audit: auditSvc, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Create starts a new active, unverified user. Email/username are
// normalized lowercase per spec.md §3.
func (s *Service) Create(ctx context.Context, tenantID id.TenantID, email, username, displayName string) (*User, error) {
	email = normalize(email)
	username = normalize(username)
	if email == "" || username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email and username are required")
	}

	now := time.Now()
	u := &User{
		ID:          id.NewUserID(),
		TenantID:    tenantID,
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		IsActive:    true,
		Preferences: map[string]any{},
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "email or username already in use")
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error) {
	u, err := s.store.GetByID(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return u, err
}

// GetByEmail resolves a user by normalized email, transparently
// unlocking one whose lock-until has already elapsed per spec.md §3's
// "effectively unlocked on next read" rule.
func (s *Service) GetByEmail(ctx context.Context, tenantID id.TenantID, email string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, tenantID, normalize(email))
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return s.lazyUnlock(ctx, u)
}

func (s *Service) lazyUnlock(ctx context.Context, u *User) (*User, error) {
	if u.Locked && !u.IsEffectivelyLocked(time.Now()) {
		u.Locked = false
		u.LockUntil = nil
		if err := s.store.Save(ctx, u); err != nil && err != sentinel.ErrConflict {
			return nil, err
		}
		if s.audit != nil {
			_, _ = s.audit.Record(ctx, audit.Event{
				TenantID:     u.TenantID,
				UserID:       u.ID,
				EventType:    audit.EventUserLockoutCleared,
				Action:       "user_lockout_cleared",
				ResourceType: "user",
				ResourceID:   u.ID.String(),
			})
		}
	}
	return u, nil
}

// RecordFailedLogin increments the failure counter and locks the user
// once it reaches the policy threshold, per spec.md §4.7. Repeated
// lockouts back off exponentially (capped at MaxLockoutDuration), so a
// credential-stuffing attempt against a habitually-locked account faces
// a growing, not constant, delay.
func (s *Service) RecordFailedLogin(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error) {
	u, err := s.store.GetByID(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}

	u.FailedAttemptCount++
	now := time.Now()
	if u.FailedAttemptCount >= s.policy.MaxFailedAttempts {
		u.Locked = true
		u.LockoutCount++
		until := now.Add(s.lockoutDuration(u.LockoutCount))
		u.LockUntil = &until
		u.FailedAttemptCount = 0
	}
	u.UpdatedAt = now

	if err := s.store.Save(ctx, u); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "user was modified concurrently")
		}
		return nil, err
	}

	if u.Locked && s.audit != nil {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			UserID:       userID,
			EventType:    audit.EventUserLockedOut,
			Action:       "user_locked_out",
			ResourceType: "user",
			ResourceID:   userID.String(),
			Metadata:     map[string]any{"lockout_count": u.LockoutCount},
		})
	}
	return u, nil
}

// ProgressiveBackoff returns the delay a caller should impose before
// accepting the next login attempt, doubling BackoffBase once per prior
// failure and capping at BackoffMax. Attempts below MaxFailedAttempts
// get a growing delay; at MaxFailedAttempts the account hard-locks via
// RecordFailedLogin instead.
func (s *Service) ProgressiveBackoff(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	d := s.policy.BackoffBase
	for i := 1; i < failureCount; i++ {
		d *= 2
		if s.policy.BackoffMax > 0 && d >= s.policy.BackoffMax {
			return s.policy.BackoffMax
		}
	}
	if s.policy.BackoffMax > 0 && d > s.policy.BackoffMax {
		return s.policy.BackoffMax
	}
	return d
}

// lockoutDuration implements the progressive-backoff schedule: the
// configured base duration doubled once per prior lockout, capped at
// MaxLockoutDuration.
func (s *Service) lockoutDuration(lockoutCount int) time.Duration {
	d := s.policy.LockoutDuration
	for i := 1; i < lockoutCount; i++ {
		d *= 2
		if s.policy.MaxLockoutDuration > 0 && d >= s.policy.MaxLockoutDuration {
			return s.policy.MaxLockoutDuration
		}
	}
	return d
}

// RecordSuccessfulLogin resets the failure counter, per spec.md §4.7.
func (s *Service) RecordSuccessfulLogin(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error) {
	u, err := s.store.GetByID(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	u, err = s.lazyUnlock(ctx, u)
	if err != nil {
		return nil, err
	}
	if u.Locked {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "user is locked")
	}

	u.FailedAttemptCount = 0
	u.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, u); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "user was modified concurrently")
		}
		return nil, err
	}
	return u, nil
}

// SoftDelete rewrites email/username to the tombstone form and clears
// IsActive, per spec.md §4.7. The uniqueness slot is freed for reuse.
func (s *Service) SoftDelete(ctx context.Context, tenantID id.TenantID, userID id.UserID) error {
	u, err := s.store.GetByID(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return err
	}
	if u.IsSoftDeleted() {
		return nil
	}

	now := time.Now()
	u.Email = tombstoneEmail(userID)
	u.Username = tombstoneUsername(userID)
	u.IsActive = false
	u.SoftDeletedAt = &now
	u.UpdatedAt = now

	if err := s.store.Save(ctx, u); err != nil {
		if err == sentinel.ErrConflict {
			return dErrors.New(dErrors.CodeConflict, "user was modified concurrently")
		}
		return err
	}

	if s.audit != nil {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			UserID:       userID,
			EventType:    audit.EventUserSoftDeleted,
			Action:       "user_soft_deleted",
			ResourceType: "user",
			ResourceID:   userID.String(),
		})
	}
	return nil
}
