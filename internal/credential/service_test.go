package credential

import (
	"context"
	"testing"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/cose"
	"aegis/pkg/sentinel"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite
	store *InMemoryStore
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.svc = NewService(s.store, nil)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func newTestCredential() *Credential {
	return &Credential{
		ID:           id.NewCredentialID(),
		TenantID:     id.NewTenantID(),
		UserID:       id.NewUserID(),
		CredentialID: []byte("opaque-cred-id"),
		PublicKey:    cose.Key{Kty: 2, Alg: cose.AlgES256, Crv: 1, X: []byte{1, 2, 3}, Y: []byte{4, 5, 6}},
		Status:       StatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func (s *ServiceSuite) TestCreate_AcceptsValidCredential() {
	c := newTestCredential()
	err := s.svc.Create(context.Background(), c)
	s.Require().NoError(err)

	stored, err := s.store.GetByID(context.Background(), c.TenantID, c.ID)
	s.Require().NoError(err)
	s.Equal(StatusActive, stored.Status)
}

func (s *ServiceSuite) TestCreate_QuarantinesIntegrityViolation() {
	c := newTestCredential()
	c.PublicKey = cose.Key{} // missing key shape

	err := s.svc.Create(context.Background(), c)
	s.Require().Error(err)

	stored, getErr := s.store.GetByID(context.Background(), c.TenantID, c.ID)
	s.Require().NoError(getErr)
	s.Equal(StatusQuarantined, stored.Status)
}

func (s *ServiceSuite) TestCreate_RejectsExpiresBeforeCreated() {
	c := newTestCredential()
	past := c.CreatedAt.Add(-time.Hour)
	c.ExpiresAt = &past

	err := s.svc.Create(context.Background(), c)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestVerifyAndAdvanceCounter_AcceptsIncreasingCounter() {
	c := newTestCredential()
	c.SignCount = 5
	require.NoError(s.T(), s.store.Create(context.Background(), c))

	err := s.svc.VerifyAndAdvanceCounter(context.Background(), c.TenantID, c.ID, 6)
	s.Require().NoError(err)

	stored, _ := s.store.GetByID(context.Background(), c.TenantID, c.ID)
	s.Equal(uint32(6), stored.SignCount)
	s.Equal(int64(1), stored.UsageCount)
}

func (s *ServiceSuite) TestVerifyAndAdvanceCounter_RejectsRollback() {
	c := newTestCredential()
	c.SignCount = 10
	require.NoError(s.T(), s.store.Create(context.Background(), c))

	err := s.svc.VerifyAndAdvanceCounter(context.Background(), c.TenantID, c.ID, 10)
	s.Require().ErrorIs(err, sentinel.ErrCounterRollback)

	stored, _ := s.store.GetByID(context.Background(), c.TenantID, c.ID)
	s.Equal(StatusSuspicious, stored.Status)
}

func (s *ServiceSuite) TestMarkCompromised_IsIrreversible() {
	c := newTestCredential()
	require.NoError(s.T(), s.store.Create(context.Background(), c))

	s.Require().NoError(s.svc.MarkCompromised(context.Background(), c.TenantID, c.ID))

	stored, _ := s.store.GetByID(context.Background(), c.TenantID, c.ID)
	s.Equal(StatusCompromised, stored.Status)
	s.False(stored.IsUsable())
	s.NotNil(stored.RevokedAt)
}

func TestCredential_Redacted_StripsPublicKeyAndAttestation(t *testing.T) {
	c := newTestCredential()
	c.AttestationBlob = []byte("sensitive")

	redacted := c.Redacted()
	require.Equal(t, cose.Key{}, redacted.PublicKey)
	require.Nil(t, redacted.AttestationBlob)
}
