package identity

import (
	"context"
	"testing"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"

	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite
	store *InMemoryStore
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.svc = NewService(s.store)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestCreateIdentity_EnforcesPrimaryKeyUniqueness() {
	tenantID := id.NewTenantID()
	person, err := s.svc.CreatePerson(context.Background(), tenantID)
	s.Require().NoError(err)

	_, err = s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	s.Require().NoError(err)

	_, err = s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestAddContext_CopyDemotesHighSensitivityAttributesToPending() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	source, err := s.svc.AddContext(context.Background(), tenantID, identity.ID, "citizen", id.ContextID{})
	s.Require().NoError(err)

	attr, err := s.svc.AddAttribute(context.Background(), tenantID, source.ID, "ssn", "123-45-6789", SensitivityCritical)
	s.Require().NoError(err)
	_, err = s.svc.VerifyAttribute(context.Background(), tenantID, attr.ID, "document_check", "", nil)
	s.Require().NoError(err)

	copied, err := s.svc.AddContext(context.Background(), tenantID, identity.ID, "patient", source.ID)
	s.Require().NoError(err)

	attrs, err := s.store.ListAttributesByContext(context.Background(), tenantID, copied.ID)
	s.Require().NoError(err)
	s.Require().Len(attrs, 1)
	s.Equal(VerificationStatusPending, attrs[0].VerificationStatus)
	s.Nil(attrs[0].VerifiedAt)
}

func (s *ServiceSuite) TestUpdateAttribute_MutatingVerifiedValueForcesPending() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	ctxObj, _ := s.svc.AddContext(context.Background(), tenantID, identity.ID, "customer", id.ContextID{})
	attr, _ := s.svc.AddAttribute(context.Background(), tenantID, ctxObj.ID, "phone", "+15551234567", SensitivityMedium)
	_, err := s.svc.VerifyAttribute(context.Background(), tenantID, attr.ID, "sms_otp", "", nil)
	s.Require().NoError(err)

	updated, err := s.svc.UpdateAttribute(context.Background(), tenantID, attr.ID, "+15559999999")
	s.Require().NoError(err)
	s.Equal(VerificationStatusPending, updated.VerificationStatus)
	s.Nil(updated.VerifiedAt)
}

func (s *ServiceSuite) TestVerifyAttribute_RequiresVerificationSource() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	ctxObj, _ := s.svc.AddContext(context.Background(), tenantID, identity.ID, "customer", id.ContextID{})
	attr, _ := s.svc.AddAttribute(context.Background(), tenantID, ctxObj.ID, "phone", "+15551234567", SensitivityLow)

	_, err := s.svc.VerifyAttribute(context.Background(), tenantID, attr.ID, "", "", nil)
	s.Require().Error(err)
	s.Equal(dErrors.CodePreconditionFailed, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestUpdateContextVerificationLevel_RefusesRegression() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	ctxObj, _ := s.svc.AddContext(context.Background(), tenantID, identity.ID, "customer", id.ContextID{})

	updated, err := s.svc.UpdateContextVerificationLevel(context.Background(), tenantID, ctxObj.ID, VerificationStandard)
	s.Require().NoError(err)
	s.Equal(VerificationStandard, updated.VerificationLevel)

	_, err = s.svc.UpdateContextVerificationLevel(context.Background(), tenantID, ctxObj.ID, VerificationBasic)
	s.Require().Error(err)
	s.Equal(dErrors.CodePreconditionFailed, dErrors.CodeOf(err))

	reloaded, err := s.store.GetContext(context.Background(), tenantID, ctxObj.ID)
	s.Require().NoError(err)
	s.Equal(VerificationStandard, reloaded.VerificationLevel)

	updated, err = s.svc.UpdateContextVerificationLevel(context.Background(), tenantID, ctxObj.ID, VerificationEnhanced)
	s.Require().NoError(err)
	s.Equal(VerificationEnhanced, updated.VerificationLevel)
}

func (s *ServiceSuite) TestUpdateContextTrustScore_FlagsSignificantDegradation() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	ctxObj, _ := s.svc.AddContext(context.Background(), tenantID, identity.ID, "customer", id.ContextID{})

	_, err := s.svc.UpdateContextTrustScore(context.Background(), tenantID, ctxObj.ID, 0.8, "initial_assessment")
	s.Require().NoError(err)

	degraded, err := s.svc.UpdateContextTrustScore(context.Background(), tenantID, ctxObj.ID, 0.3, "anomalous_behavior")
	s.Require().NoError(err)
	s.True(degraded.FlaggedDegraded)
	s.Len(degraded.TrustHistory, 2)
}

func (s *ServiceSuite) TestUpdateContextTrustScore_MinorDropDoesNotFlag() {
	tenantID := id.NewTenantID()
	person, _ := s.svc.CreatePerson(context.Background(), tenantID)
	identity, _ := s.svc.CreateIdentity(context.Background(), tenantID, person.ID, PrimaryKeyEmail, "a@example.com")
	ctxObj, _ := s.svc.AddContext(context.Background(), tenantID, identity.ID, "customer", id.ContextID{})

	_, err := s.svc.UpdateContextTrustScore(context.Background(), tenantID, ctxObj.ID, 0.8, "initial_assessment")
	s.Require().NoError(err)

	result, err := s.svc.UpdateContextTrustScore(context.Background(), tenantID, ctxObj.ID, 0.7, "minor_variance")
	s.Require().NoError(err)
	s.False(result.FlaggedDegraded)
}
