package tenantuser

import (
	"context"
	"testing"
	"time"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"

	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite
	store    *InMemoryStore
	svc      *Service
	tenantID id.TenantID
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.svc = NewService(s.store, nil)
	s.tenantID = id.NewTenantID()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) createUser() *User {
	u, err := s.svc.Create(context.Background(), s.tenantID, "Alice@Example.com", "Alice", "Alice A.")
	s.Require().NoError(err)
	return u
}

func (s *ServiceSuite) TestCreate_NormalizesEmailAndUsername() {
	u := s.createUser()
	s.Equal("alice@example.com", u.Email)
	s.Equal("alice", u.Username)
	s.True(u.IsActive)
}

func (s *ServiceSuite) TestCreate_RejectsDuplicateEmail() {
	s.createUser()
	_, err := s.svc.Create(context.Background(), s.tenantID, "alice@example.com", "someoneelse", "")
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestRecordFailedLogin_LocksAfterThreshold() {
	u := s.createUser()
	ctx := context.Background()

	for i := 0; i < maxFailedAttemptsDefault-1; i++ {
		got, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
		s.Require().NoError(err)
		s.False(got.Locked)
	}

	locked, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	s.True(locked.Locked)
	s.Equal(1, locked.LockoutCount)
	s.Require().NotNil(locked.LockUntil)
	s.WithinDuration(time.Now().Add(lockoutDurationDefault), *locked.LockUntil, 5*time.Second)
	s.Equal(0, locked.FailedAttemptCount)
}

func (s *ServiceSuite) TestRecordSuccessfulLogin_ResetsFailedCount() {
	u := s.createUser()
	ctx := context.Background()

	_, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)

	got, err := s.svc.RecordSuccessfulLogin(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	s.Equal(0, got.FailedAttemptCount)
}

func (s *ServiceSuite) TestRecordSuccessfulLogin_RejectsWhileLocked() {
	u := s.createUser()
	ctx := context.Background()

	for i := 0; i < maxFailedAttemptsDefault; i++ {
		_, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
		s.Require().NoError(err)
	}

	_, err := s.svc.RecordSuccessfulLogin(ctx, s.tenantID, u.ID)
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthenticated, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestRecordSuccessfulLogin_LazilyUnlocksExpiredLockout() {
	u := s.createUser()
	ctx := context.Background()

	for i := 0; i < maxFailedAttemptsDefault; i++ {
		_, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
		s.Require().NoError(err)
	}

	stored, err := s.store.GetByID(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	past := time.Now().Add(-time.Minute)
	stored.LockUntil = &past
	s.Require().NoError(s.store.Save(ctx, stored))

	got, err := s.svc.RecordSuccessfulLogin(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	s.False(got.Locked)
	s.Nil(got.LockUntil)
}

func (s *ServiceSuite) TestLockoutDuration_BacksOffExponentially() {
	u := s.createUser()
	ctx := context.Background()

	lockOnce := func() *User {
		var last *User
		for i := 0; i < maxFailedAttemptsDefault; i++ {
			got, err := s.svc.RecordFailedLogin(ctx, s.tenantID, u.ID)
			s.Require().NoError(err)
			last = got
		}
		return last
	}

	before := time.Now()
	first := lockOnce()
	s.Equal(1, first.LockoutCount)
	firstDuration := first.LockUntil.Sub(before)

	// Expire the first lockout so a second one can be earned.
	past := time.Now().Add(-time.Second)
	stored, err := s.store.GetByID(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	stored.LockUntil = &past
	s.Require().NoError(s.store.Save(ctx, stored))

	before = time.Now()
	second := lockOnce()
	s.Equal(2, second.LockoutCount)
	secondDuration := second.LockUntil.Sub(before)

	s.Greater(secondDuration, firstDuration+firstDuration/2) // roughly double the first window
}

func (s *ServiceSuite) TestProgressiveBackoff_DoublesPerAttemptAndCaps() {
	s.Equal(time.Duration(0), s.svc.ProgressiveBackoff(0))
	s.Equal(s.svc.policy.BackoffBase, s.svc.ProgressiveBackoff(1))
	s.Equal(s.svc.policy.BackoffBase*2, s.svc.ProgressiveBackoff(2))
	s.Equal(s.svc.policy.BackoffBase*4, s.svc.ProgressiveBackoff(3))
	s.Equal(s.svc.policy.BackoffMax, s.svc.ProgressiveBackoff(20))
}

func (s *ServiceSuite) TestSoftDelete_RewritesEmailAndUsernameAndClearsActive() {
	u := s.createUser()
	ctx := context.Background()

	s.Require().NoError(s.svc.SoftDelete(ctx, s.tenantID, u.ID))

	got, err := s.store.GetByID(ctx, s.tenantID, u.ID)
	s.Require().NoError(err)
	s.False(got.IsActive)
	s.True(got.IsSoftDeleted())
	s.Equal(tombstoneEmail(u.ID), got.Email)
	s.Equal(tombstoneUsername(u.ID), got.Username)
}

func (s *ServiceSuite) TestSoftDelete_FreesEmailForNewSignup() {
	u := s.createUser()
	ctx := context.Background()
	s.Require().NoError(s.svc.SoftDelete(ctx, s.tenantID, u.ID))

	_, err := s.svc.Create(ctx, s.tenantID, "alice@example.com", "alice2", "")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestGetByEmail_NotFoundReturnsDomainError() {
	_, err := s.svc.GetByEmail(context.Background(), s.tenantID, "nobody@example.com")
	s.Require().Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}
