package session

import (
	"context"
	"encoding/base64"
	"time"

	"aegis/internal/audit"
	"aegis/internal/platform/tracing"
	dErrors "aegis/pkg/domain-errors"
	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// CryptoProvider is the subset of pkg/cryptoprovider.Provider the
// session manager consumes: token generation, the lookup hash, and
// at-rest encryption of the refresh token.
type CryptoProvider interface {
	RandomBytes(n int) ([]byte, error)
	SHA256(data []byte) [32]byte
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// tokenBytes is the raw entropy per token: 64 bytes (512 bits) comfortably
// clears spec.md §3's ≥256-bit floor and matches §4.2's "≥64 bytes"
// generation requirement.
const tokenBytes = 64

// Policy is the tenant/deployment-tunable knobs spec.md §4.2 and §6 name.
type Policy struct {
	TTL                   time.Duration
	MaxConcurrentSessions int
	RenewalThreshold      time.Duration
	RefreshWindow         time.Duration
	MaxExtendDelta        time.Duration
}

// DefaultPolicy is the policy NewService uses when no WithPolicy option
// is given. cmd/server overrides TTL, MaxConcurrentSessions and
// RefreshWindow from config, whose defaults differ from these.
func DefaultPolicy() Policy {
	return Policy{
		TTL:                   30 * time.Minute,
		MaxConcurrentSessions: 5,
		RenewalThreshold:      5 * time.Minute,
		RefreshWindow:         24 * time.Hour,
		MaxExtendDelta:        30 * time.Minute,
	}
}

// Service implements the session lifecycle operations spec.md §4.2 names.
type Service struct {
	store  Store
	crypto CryptoProvider
	audit  *audit.Service
	policy Policy
	tracer tracing.Tracer
}

// Option configures a Service.
type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithTracer attaches a span emitter so Create/Refresh get one span
// apiece, attributed with tenant/user IDs only.
func WithTracer(t tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(store Store, crypto CryptoProvider, auditSvc *audit.Service, opts ...Option) *Service {
	s := &Service{store: store, crypto: crypto, audit: auditSvc, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is everything Create needs beyond tenant/user identity.
type CreateInput struct {
	CredentialID      id.CredentialID
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Geo               GeoTriple
	Type              Type
}

func (s *Service) issueTokens() (sessionToken, refreshToken string, tokenHash [32]byte, err error) {
	rawSession, err := s.crypto.RandomBytes(tokenBytes)
	if err != nil {
		return "", "", tokenHash, err
	}
	rawRefresh, err := s.crypto.RandomBytes(tokenBytes)
	if err != nil {
		return "", "", tokenHash, err
	}
	sessionToken = base64.RawURLEncoding.EncodeToString(rawSession)
	refreshToken = base64.RawURLEncoding.EncodeToString(rawRefresh)
	tokenHash = s.crypto.SHA256([]byte(sessionToken))
	return sessionToken, refreshToken, tokenHash, nil
}

// Create mints a session, evicting the least-recently-active session
// for the user if the concurrent-session cap would otherwise be
// exceeded, per spec.md §4.2.
func (s *Service) Create(ctx context.Context, tenantID id.TenantID, userID id.UserID, in CreateInput) (sess *Session, tokens IssuedTokens, err error) {
	ctx, finish := s.tracer.Start(ctx, "session.create", tracing.TenantAttr(tenantID.String()), tracing.UserAttr(userID.String()))
	defer func() { finish(err) }()

	active, err := s.store.ListActiveByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, IssuedTokens{}, err
	}
	if s.policy.MaxConcurrentSessions > 0 && len(active) >= s.policy.MaxConcurrentSessions {
		oldest := active[0]
		if err := s.terminate(ctx, oldest, StatusTerminated, "max_concurrent_sessions_exceeded"); err != nil {
			return nil, IssuedTokens{}, err
		}
	}

	sessionToken, refreshToken, tokenHash, err := s.issueTokens()
	if err != nil {
		return nil, IssuedTokens{}, err
	}
	encryptedRefresh, err := s.crypto.Seal([]byte(refreshToken), tokenHash[:])
	if err != nil {
		return nil, IssuedTokens{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.policy.TTL)
	sess = &Session{
		ID:                    id.NewSessionID(),
		TenantID:              tenantID,
		UserID:                userID,
		CredentialID:          in.CredentialID,
		TokenHash:             tokenHash,
		EncryptedRefreshToken: encryptedRefresh,
		Status:                StatusActive,
		Type:                  in.Type,
		ExpiresAt:             expiresAt,
		LastActivityAt:        now,
		IP:                    in.IP,
		UserAgent:             in.UserAgent,
		DeviceFingerprint:     in.DeviceFingerprint,
		Geo:                   in.Geo,
		ActivityCount:         0,
		CreatedAt:             now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, IssuedTokens{}, err
	}

	if s.audit != nil {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			UserID:       userID,
			EventType:    audit.EventSessionCreated,
			Action:       "session_created",
			ResourceType: "session",
			ResourceID:   sess.ID.String(),
		})
	}

	return sess, IssuedTokens{SessionToken: sessionToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

// Validate looks a session up by its presented token's hash, rejects it
// if inactive/expired/tampered, and otherwise touches activity.
func (s *Service) Validate(ctx context.Context, tenantID id.TenantID, presentedToken string) (*Session, error) {
	hash := s.crypto.SHA256([]byte(presentedToken))
	sess, err := s.store.GetByTokenHash(ctx, tenantID, hash)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "session not found")
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sess.Status != StatusActive {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "session not active")
	}
	if !sess.ExpiresAt.After(now) {
		if err := s.terminate(ctx, sess, StatusExpired, "ttl_elapsed"); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "session expired")
	}

	sess.LastActivityAt = now
	sess.ActivityCount++
	if err := s.store.Save(ctx, sess); err != nil {
		if err == sentinel.ErrConflict {
			return s.Validate(ctx, tenantID, presentedToken)
		}
		return nil, err
	}
	return sess, nil
}

// Refresh rotates both tokens and extends expiration by the policy
// refresh window. The refresh token is single-use: presenting a
// previously rotated token revokes the session and raises a critical
// audit event, since it signals the old token leaked, per spec.md §4.2.
func (s *Service) Refresh(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, presentedRefreshToken string) (outSess *Session, outTokens IssuedTokens, outErr error) {
	ctx, finish := s.tracer.Start(ctx, "session.refresh", tracing.TenantAttr(tenantID.String()))
	defer func() { finish(outErr) }()

	sess, err := s.store.GetByID(ctx, tenantID, sessionID)
	if err == sentinel.ErrNotFound {
		return nil, IssuedTokens{}, dErrors.New(dErrors.CodeUnauthenticated, "session not found")
	}
	if err != nil {
		return nil, IssuedTokens{}, err
	}
	if sess.Status != StatusActive {
		return nil, IssuedTokens{}, dErrors.New(dErrors.CodeUnauthenticated, "session not active")
	}

	plaintext, err := s.crypto.Open(sess.EncryptedRefreshToken, sess.TokenHash[:])
	if err != nil || string(plaintext) != presentedRefreshToken {
		if auditErr := s.terminate(ctx, sess, StatusRevoked, "refresh_token_reuse_detected"); auditErr != nil {
			return nil, IssuedTokens{}, auditErr
		}
		if s.audit != nil {
			_, _ = s.audit.Record(ctx, audit.Event{
				TenantID:     tenantID,
				UserID:       sess.UserID,
				EventType:    audit.EventSecurityViolation,
				Action:       "refresh_token_reuse",
				ResourceType: "session",
				ResourceID:   sess.ID.String(),
				Metadata:     map[string]any{"severity": string(audit.SeverityCritical)},
			})
		}
		return nil, IssuedTokens{}, sentinel.ErrAlreadyUsed
	}

	sessionToken, refreshToken, tokenHash, err := s.issueTokens()
	if err != nil {
		return nil, IssuedTokens{}, err
	}
	encryptedRefresh, err := s.crypto.Seal([]byte(refreshToken), tokenHash[:])
	if err != nil {
		return nil, IssuedTokens{}, err
	}

	now := time.Now()
	sess.TokenHash = tokenHash
	sess.EncryptedRefreshToken = encryptedRefresh
	sess.ExpiresAt = now.Add(s.policy.RefreshWindow)
	sess.LastActivityAt = now
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, IssuedTokens{}, err
	}

	return sess, IssuedTokens{SessionToken: sessionToken, RefreshToken: refreshToken, ExpiresAt: sess.ExpiresAt}, nil
}

// Extend pushes expiration by delta while the session is active, capped
// at the policy's MaxExtendDelta.
func (s *Service) Extend(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, delta time.Duration) (*Session, error) {
	if delta <= 0 || delta > s.policy.MaxExtendDelta {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "extend delta out of bounds")
	}
	sess, err := s.store.GetByID(ctx, tenantID, sessionID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "session_not_active")
	}
	sess.ExpiresAt = sess.ExpiresAt.Add(delta)
	if err := s.store.Save(ctx, sess); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "session was modified concurrently")
		}
		return nil, err
	}
	return sess, nil
}

// Revoke is Terminate with the "revoked" terminal status.
func (s *Service) Revoke(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, reason string) error {
	return s.transition(ctx, tenantID, sessionID, StatusRevoked, reason)
}

// Terminate is the generic terminal transition with caller-supplied reason.
func (s *Service) Terminate(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, reason string) error {
	return s.transition(ctx, tenantID, sessionID, StatusTerminated, reason)
}

func (s *Service) transition(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, status Status, reason string) error {
	sess, err := s.store.GetByID(ctx, tenantID, sessionID)
	if err == sentinel.ErrNotFound {
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return dErrors.New(dErrors.CodePreconditionFailed, "session_already_terminal")
	}
	return s.terminate(ctx, sess, status, reason)
}

func (s *Service) terminate(ctx context.Context, sess *Session, status Status, reason string) error {
	now := time.Now()
	sess.Status = status
	sess.TerminatedAt = &now
	sess.TerminationReason = reason
	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}
	if s.audit != nil {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     sess.TenantID,
			UserID:       sess.UserID,
			EventType:    audit.EventSessionRevoked,
			Action:       string(status),
			ResourceType: "session",
			ResourceID:   sess.ID.String(),
			Metadata:     map[string]any{"reason": reason},
		})
	}
	return nil
}

// TerminateAllForCredential implements the credential-compromise fan-out
// spec.md §4.3 requires: terminate every active session that referenced
// the compromised credential.
func (s *Service) TerminateAllForCredential(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID, reason string) error {
	sessions, err := s.store.ListActiveByCredential(ctx, tenantID, credentialID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.terminate(ctx, sess, StatusTerminated, reason); err != nil {
			return err
		}
	}
	if s.audit != nil && len(sessions) > 0 {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			EventType:    audit.EventSessionsRevoked,
			Action:       "sessions_revoked_credential_compromised",
			ResourceType: "credential",
			ResourceID:   credentialID.String(),
			Metadata:     map[string]any{"count": len(sessions)},
		})
	}
	return nil
}

// NeedsRenewal reports whether sess's expiration falls within the
// policy's renewal threshold.
func (s *Service) NeedsRenewal(sess *Session, now time.Time) bool {
	return sess.Status == StatusActive && sess.ExpiresAt.Sub(now) <= s.policy.RenewalThreshold
}

// UpdateRiskScore recomputes the derived security flags from score,
// per spec.md §4.2.
func (s *Service) UpdateRiskScore(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, score float64) (*Session, error) {
	sess, err := s.store.GetByID(ctx, tenantID, sessionID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, err
	}
	sess.RiskScore = score
	sess.Flags = DeriveSecurityFlags(score)
	if err := s.store.Save(ctx, sess); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "session was modified concurrently")
		}
		return nil, err
	}
	return sess, nil
}
