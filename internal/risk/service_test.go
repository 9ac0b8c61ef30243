package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	id "aegis/pkg/domain"

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

func newTestSignals() Signals {
	return Signals{
		Request: RequestContext{
			IP:        "203.0.113.10",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15",
			Country:   "US",
		},
		DeviceFingerprint: "device-abc",
		Country:           "US",
		AssessedAt:        time.Now(),
	}
}

// seedHighRiskHistory stores a profile that flags newTestSignals' IP as
// suspicious and has one prior observation with no typical hours, so the
// location and temporal factors both fire on the next assessment.
func (s *ServiceSuite) seedHighRiskHistory(tenantID id.TenantID, userID id.UserID) {
	s.Require().NoError(s.store.SaveProfile(context.Background(), &Profile{
		TenantID:         tenantID,
		UserID:           userID,
		TrustedDevices:   map[string]bool{},
		TrustedLocations: map[string]bool{},
		SuspiciousIPs:    map[string]bool{"203.0.113.10": true},
		Behavior:         BehaviorPatterns{ObservationCount: 1},
		Confidence:       1.0,
	}))
}

func (s *ServiceSuite) TestAssess_FirstAssessmentEstablishesBaseline() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	result, err := s.svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)
	s.NotEmpty(result.Level)
	s.NotNil(result.Event)

	profile, err := s.store.GetProfile(context.Background(), tenantID, userID)
	s.Require().NoError(err)
	s.Equal(result.Score, profile.Baseline)
	s.Equal(int64(1), profile.AssessmentCount)
}

func (s *ServiceSuite) TestAssess_UntrustedDeviceAndLocationRaiseScore() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	result, err := s.svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)
	s.True(result.Score > 0, "unknown device/location should produce a nonzero composite score")
}

func (s *ServiceSuite) TestAssess_TrustedDeviceAndLocationLowersScore() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	s.Require().NoError(s.svc.TrustDevice(context.Background(), tenantID, userID, "device-abc"))
	s.Require().NoError(s.svc.TrustLocation(context.Background(), tenantID, userID, "US"))

	result, err := s.svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)
	s.True(result.Score < 60, "trusted device+location should avoid a high score")
}

func (s *ServiceSuite) TestAssess_VelocityFactorFiresOverLimit() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	sig := newTestSignals()
	sig.AttemptsInWindow = 10
	sig.VelocityLimit = 3

	result, err := s.svc.Assess(context.Background(), tenantID, userID, sig)
	s.Require().NoError(err)

	found := false
	for _, tr := range result.Event.Traces {
		if tr.Rule == "velocity.limit_exceeded" {
			found = true
		}
	}
	s.True(found, "expected the velocity trace to fire when attempts exceed the limit")
}

func (s *ServiceSuite) TestReportOutcome_ConfirmedHighRiskIncrementsSecurityViolations() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	s.seedHighRiskHistory(tenantID, userID)

	sig := newTestSignals()
	sig.Jailbroken = true
	sig.AttemptsInWindow = 50
	sig.VelocityLimit = 1
	result, err := s.svc.Assess(context.Background(), tenantID, userID, sig)
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpdateEventStatus(context.Background(), tenantID, result.Event.ID, StatusAnalyzing))
	s.Require().NoError(s.svc.ReportOutcome(context.Background(), tenantID, result.Event.ID, StatusConfirmed))

	profile, err := s.store.GetProfile(context.Background(), tenantID, userID)
	s.Require().NoError(err)
	s.Require().True(result.Level.IsHighRisk(), "seeded history should put this assessment at high risk or above")
	s.Equal(1, profile.Threat.SecurityViolations)
	s.Equal(1, profile.Threat.ConfirmedAnomalies)
}

func (s *ServiceSuite) TestReportOutcome_RejectsIllegalTransition() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	result, err := s.svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)

	// StatusResolved is not reachable directly from StatusDetected.
	err = s.svc.ReportOutcome(context.Background(), tenantID, result.Event.ID, StatusResolved)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestThreeSecurityViolationsAutoFlagsProfile() {
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	s.seedHighRiskHistory(tenantID, userID)

	for i := 0; i < 3; i++ {
		sig := newTestSignals()
		sig.Jailbroken = true
		sig.AttemptsInWindow = 50
		sig.VelocityLimit = 1
		result, err := s.svc.Assess(context.Background(), tenantID, userID, sig)
		s.Require().NoError(err)
		s.Require().NoError(s.store.UpdateEventStatus(context.Background(), tenantID, result.Event.ID, StatusAnalyzing))
		s.Require().NoError(s.svc.ReportOutcome(context.Background(), tenantID, result.Event.ID, StatusConfirmed))
	}

	profile, err := s.store.GetProfile(context.Background(), tenantID, userID)
	s.Require().NoError(err)
	s.Equal(3, profile.Threat.SecurityViolations)
	s.True(profile.Flagged)
	s.NotEmpty(profile.FlagReason)
}

type stubScorer struct {
	value      float64
	confidence float64
	delay      time.Duration
	err        error
}

func (s stubScorer) Score(ctx context.Context, _ []float64) (float64, float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.value, s.confidence, nil
}

func (s *ServiceSuite) TestAssess_AnomalyScorerTimeoutDegradesGracefully() {
	svc := NewService(s.store, nil, WithAnomalyScorer(stubScorer{delay: anomalyScorerBudget + time.Second, err: errors.New("unreachable")}))
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	result, err := svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)
	s.Nil(result.Event.Factors.Anomaly)
}

func (s *ServiceSuite) TestAssess_AnomalyScorerContributesFactorOnSuccess() {
	svc := NewService(s.store, nil, WithAnomalyScorer(stubScorer{value: 0.9, confidence: 0.8}))
	tenantID, userID := id.NewTenantID(), id.NewUserID()

	result, err := svc.Assess(context.Background(), tenantID, userID, newTestSignals())
	s.Require().NoError(err)
	s.Require().NotNil(result.Event.Factors.Anomaly)
	s.InDelta(90.0, *result.Event.Factors.Anomaly, 0.001)
}

func TestLevelForScore_Thresholds(t *testing.T) {
	cases := map[float64]Level{
		0:   LevelVeryLow,
		19:  LevelVeryLow,
		20:  LevelLow,
		39:  LevelLow,
		40:  LevelMedium,
		59:  LevelMedium,
		60:  LevelHigh,
		74:  LevelHigh,
		75:  LevelVeryHigh,
		89:  LevelVeryHigh,
		90:  LevelCritical,
		100: LevelCritical,
	}
	for score, want := range cases {
		if got := LevelForScore(score); got != want {
			t.Errorf("LevelForScore(%v) = %v, want %v", score, got, want)
		}
	}
}

func TestFactors_CompositeExcludesAbsentFactors(t *testing.T) {
	w := DefaultWeights()
	device := 80.0
	f := Factors{Device: &device}
	if got := f.Composite(w); got != 80.0 {
		t.Errorf("Composite with only Device present = %v, want 80", got)
	}
}
