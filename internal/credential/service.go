package credential

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/sentinel"
)

// SessionTerminator terminates every session that referenced a given
// credential. Declared here instead of importing internal/session
// directly to avoid a credential -> session dependency cycle (session
// already depends on credential's sibling packages in the wiring order);
// session.Service satisfies it.
type SessionTerminator interface {
	TerminateAllForCredential(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID, reason string) error
}

// Service wraps Store with the integrity self-check and audit emission
// §4.3 requires around policy transitions.
type Service struct {
	store    Store
	audit    *audit.Service
	sessions SessionTerminator
}

// Option configures a Service.
type Option func(*Service)

// WithSessionTerminator wires the session fan-out MarkCompromised must
// trigger per §4.3 ("terminates all sessions of owning user that
// referenced it"). Left unset, MarkCompromised only transitions the
// credential and audits the event, matching a Service used in a context
// with no session manager (e.g. tests).
func WithSessionTerminator(t SessionTerminator) Option {
	return func(s *Service) { s.sessions = t }
}

func NewService(store Store, auditSvc *audit.Service, opts ...Option) *Service {
	s := &Service{store: store, audit: auditSvc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntegrityCheck validates the structural invariants §4.3 lists:
// credential-id length, public-key shape, counter >= 0 (always true for
// uint32, kept as a named check for parity with the spec's invariant
// list), and expires-at > created-at.
func IntegrityCheck(c *Credential) error {
	if len(c.CredentialID) == 0 || len(c.CredentialID) > 1023 {
		return dErrors.New(dErrors.CodeIntegrityViolation, "credential id length out of bounds")
	}
	if c.PublicKey.Kty == 0 {
		return dErrors.New(dErrors.CodeIntegrityViolation, "public key missing")
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(c.CreatedAt) {
		return dErrors.New(dErrors.CodeIntegrityViolation, "expires_at must be after created_at")
	}
	return nil
}

// Create runs the integrity self-check before persisting; a failing
// credential is quarantined rather than silently stored, per §4.3 "on
// any integrity violation the credential is quarantined".
func (s *Service) Create(ctx context.Context, c *Credential) error {
	if err := IntegrityCheck(c); err != nil {
		c.Status = StatusQuarantined
		if createErr := s.store.Create(ctx, c); createErr != nil {
			return fmt.Errorf("quarantine invalid credential: %w", createErr)
		}
		return err
	}
	return s.store.Create(ctx, c)
}

// VerifyAndAdvanceCounter implements the §4.1/§4.3 anti-replay protocol:
// a non-increasing signature counter flips the credential to suspicious
// and the assertion must be refused.
func (s *Service) VerifyAndAdvanceCounter(ctx context.Context, tenantID id.TenantID, credID id.CredentialID, newCount uint32) error {
	err := s.store.UpdateUsage(ctx, tenantID, credID, newCount, time.Now())
	if err == nil {
		return nil
	}
	if err == sentinel.ErrCounterRollback {
		if s.audit != nil {
			_, _ = s.audit.Record(ctx, audit.Event{
				TenantID:     tenantID,
				EventType:    audit.EventCredentialCompromised,
				Action:       "credential_counter_rollback",
				ResourceType: "credential",
				ResourceID:   credID.String(),
			})
		}
	}
	return err
}

// MarkCompromised transitions the credential irreversibly, records an
// audit event, and — per §4.3 ("irreversible: revoked + flagged +
// terminates all sessions of owning user that referenced it") —
// terminates every active session that referenced it, if a
// SessionTerminator was wired in.
func (s *Service) MarkCompromised(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	if err := s.store.MarkCompromised(ctx, tenantID, credID); err != nil {
		return err
	}
	if s.audit != nil {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			EventType:    audit.EventCredentialCompromised,
			Action:       "credential_marked_compromised",
			ResourceType: "credential",
			ResourceID:   credID.String(),
		})
	}
	if s.sessions != nil {
		if err := s.sessions.TerminateAllForCredential(ctx, tenantID, credID, "credential_compromised"); err != nil {
			return fmt.Errorf("terminate sessions for compromised credential: %w", err)
		}
	}
	return nil
}
