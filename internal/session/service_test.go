package session

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"

	"github.com/stretchr/testify/suite"
)

// fakeCrypto is a deterministic, non-cryptographic stand-in for
// pkg/cryptoprovider.Provider so tests don't depend on real entropy.
type fakeCrypto struct {
	counter int
	sealed  map[string][]byte
}

func newFakeCrypto() *fakeCrypto {
	return &fakeCrypto{sealed: make(map[string][]byte)}
}

func (f *fakeCrypto) RandomBytes(n int) ([]byte, error) {
	f.counter++
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(f.counter + i)
	}
	return buf, nil
}

func (f *fakeCrypto) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (f *fakeCrypto) Seal(plaintext, aad []byte) ([]byte, error) {
	out := append([]byte(nil), plaintext...)
	f.sealed[string(aad)] = out
	return out, nil
}

func (f *fakeCrypto) Open(ciphertext, aad []byte) ([]byte, error) {
	return ciphertext, nil
}

type ServiceSuite struct {
	suite.Suite
	store  *InMemoryStore
	crypto *fakeCrypto
	svc    *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.crypto = newFakeCrypto()
	s.svc = NewService(s.store, s.crypto, nil, WithPolicy(Policy{
		TTL:                   time.Hour,
		MaxConcurrentSessions: 2,
		RenewalThreshold:      5 * time.Minute,
		RefreshWindow:         24 * time.Hour,
		MaxExtendDelta:        time.Hour,
	}))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func newTestInput() CreateInput {
	return CreateInput{
		CredentialID: id.NewCredentialID(),
		IP:           "203.0.113.1",
		UserAgent:    "test-agent",
		Type:         TypeWeb,
	}
}

func (s *ServiceSuite) TestCreate_IssuesUsableSession() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	sess, tokens, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)
	s.True(sess.IsActive())
	s.NotEmpty(tokens.SessionToken)
	s.NotEmpty(tokens.RefreshToken)
}

func (s *ServiceSuite) TestValidate_AcceptsFreshSessionAndTouchesActivity() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	_, tokens, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	validated, err := s.svc.Validate(context.Background(), tenantID, tokens.SessionToken)
	s.Require().NoError(err)
	s.Equal(int64(1), validated.ActivityCount)
}

func (s *ServiceSuite) TestValidate_RejectsUnknownToken() {
	tenantID := id.NewTenantID()
	_, err := s.svc.Validate(context.Background(), tenantID, "not-a-real-token")
	s.Require().Error(err)
}

func (s *ServiceSuite) TestValidate_ExpiresStaleSession() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	sess, tokens, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	sess.ExpiresAt = time.Now().Add(-time.Minute)
	s.Require().NoError(s.store.Save(context.Background(), sess))

	_, err = s.svc.Validate(context.Background(), tenantID, tokens.SessionToken)
	s.Require().Error(err)

	reloaded, getErr := s.store.GetByID(context.Background(), tenantID, sess.ID)
	s.Require().NoError(getErr)
	s.Equal(StatusExpired, reloaded.Status)
}

func (s *ServiceSuite) TestCreate_EvictsOldestSessionOverCap() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	first, _, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)
	_, _, err = s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)
	_, _, err = s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	reloaded, err := s.store.GetByID(context.Background(), tenantID, first.ID)
	s.Require().NoError(err)
	s.Equal(StatusTerminated, reloaded.Status)

	active, err := s.store.ListActiveByUser(context.Background(), tenantID, userID)
	s.Require().NoError(err)
	s.Len(active, 2)
}

func (s *ServiceSuite) TestRefresh_RotatesTokensAndExtendsExpiry() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	sess, tokens, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	_, newTokens, err := s.svc.Refresh(context.Background(), tenantID, sess.ID, tokens.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(tokens.SessionToken, newTokens.SessionToken)
	s.NotEqual(tokens.RefreshToken, newTokens.RefreshToken)
	// Create sets expiry to TTL (1h); Refresh sets it to RefreshWindow (24h).
	s.True(newTokens.ExpiresAt.After(tokens.ExpiresAt))

	// The old session token no longer resolves once rotated.
	_, err = s.svc.Validate(context.Background(), tenantID, tokens.SessionToken)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestRefresh_ReusedTokenRevokesSession() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	sess, tokens, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	_, _, err = s.svc.Refresh(context.Background(), tenantID, sess.ID, tokens.RefreshToken)
	s.Require().NoError(err)

	_, _, err = s.svc.Refresh(context.Background(), tenantID, sess.ID, tokens.RefreshToken)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)

	reloaded, getErr := s.store.GetByID(context.Background(), tenantID, sess.ID)
	s.Require().NoError(getErr)
	s.Equal(StatusRevoked, reloaded.Status)
}

func (s *ServiceSuite) TestUpdateRiskScore_DerivesSecurityFlags() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	sess, _, err := s.svc.Create(context.Background(), tenantID, userID, newTestInput())
	s.Require().NoError(err)

	updated, err := s.svc.UpdateRiskScore(context.Background(), tenantID, sess.ID, 80)
	s.Require().NoError(err)
	s.True(updated.Flags.IsHighRisk)
	s.True(updated.Flags.RequiresMFA)

	updated, err = s.svc.UpdateRiskScore(context.Background(), tenantID, sess.ID, 55)
	s.Require().NoError(err)
	s.False(updated.Flags.IsHighRisk)
	s.True(updated.Flags.RequiresMFA)
}

func (s *ServiceSuite) TestTerminateAllForCredential_RevokesMatchingSessions() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	in := newTestInput()
	sess, _, err := s.svc.Create(context.Background(), tenantID, userID, in)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.TerminateAllForCredential(context.Background(), tenantID, in.CredentialID, "credential_compromised"))

	reloaded, err := s.store.GetByID(context.Background(), tenantID, sess.ID)
	s.Require().NoError(err)
	s.Equal(StatusTerminated, reloaded.Status)
}

func TestDeriveSecurityFlags_Thresholds(t *testing.T) {
	flags := DeriveSecurityFlags(49.9)
	if flags.RequiresMFA || flags.IsHighRisk {
		t.Fatalf("expected no flags below 50, got %+v", flags)
	}
	flags = DeriveSecurityFlags(50)
	if !flags.RequiresMFA || flags.IsHighRisk {
		t.Fatalf("expected requiresMfa only at 50, got %+v", flags)
	}
	flags = DeriveSecurityFlags(70)
	if !flags.RequiresMFA || !flags.IsHighRisk {
		t.Fatalf("expected both flags at 70, got %+v", flags)
	}
}
