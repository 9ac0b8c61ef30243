package risk

import (
	"context"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"golang.org/x/sync/errgroup"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// AnomalyScorer is the pluggable ML collaborator spec.md §6 names. Score
// must respect ctx's deadline; Service.Assess gives it a 2-second budget
// and treats a timeout or error as "anomalyRisk absent" rather than
// failing the assessment, per spec.md §5.
type AnomalyScorer interface {
	Score(ctx context.Context, featureVector []float64) (value float64, confidence float64, err error)
}

// anomalyScorerBudget is the default budget spec.md §5 fixes for the
// pluggable scorer.
const anomalyScorerBudget = 2 * time.Second

// Signals are the raw, caller-observed inputs Assess folds into the six
// risk factors. Everything here is cheap to gather at the transport
// edge; the scoring math lives entirely in this package.
type Signals struct {
	Request RequestContext

	DeviceFingerprint string
	KnownAAGUID       bool
	Jailbroken        bool

	Country string
	Region  string

	AttemptsInWindow int // same-user/IP authentication attempts within policy's window
	VelocityLimit    int // policy threshold for AttemptsInWindow

	AssessedAt time.Time
}

// Result is what Assess returns to the caller: the computed score plus
// the recommendations and confidence the session manager and transport
// layer act on.
type Result struct {
	Score           float64
	Level           Level
	Trend           Trend
	Confidence      float64
	Recommendations []Recommendation
	Event           *Event
}

// Service computes risk assessments and maintains the durable profile
// and append-only event stream spec.md §4.4 describes.
type Service struct {
	store   Store
	audit   *audit.Service
	scorer  AnomalyScorer
	weights FactorWeights
}

// Option configures a Service.
type Option func(*Service)

func WithAnomalyScorer(scorer AnomalyScorer) Option {
	return func(s *Service) { s.scorer = scorer }
}

func WithWeights(w FactorWeights) Option {
	return func(s *Service) { s.weights = w }
}

func NewService(store Store, auditSvc *audit.Service, opts ...Option) *Service {
	s := &Service{store: store, audit: auditSvc, weights: DefaultWeights()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assess computes a fresh risk score for (tenantID, userID) from
// signals, updates the durable profile, appends a RiskEvent, and
// returns the recommendations the caller should act on.
func (s *Service) Assess(ctx context.Context, tenantID id.TenantID, userID id.UserID, sig Signals) (Result, error) {
	now := sig.AssessedAt
	if now.IsZero() {
		now = time.Now()
	}

	profile, err := s.store.GetProfile(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		profile = &Profile{
			TenantID:         tenantID,
			UserID:           userID,
			TrustedDevices:   map[string]bool{},
			TrustedLocations: map[string]bool{},
			SuspiciousIPs:    map[string]bool{},
			Confidence:       1.0,
			CreatedAt:        now,
		}
	} else if err != nil {
		return Result{}, err
	}

	factors, traces := s.computeFactors(ctx, profile, sig)
	composite := factors.Composite(s.weights)
	level := LevelForScore(composite)

	s.updateProfile(profile, composite, level, factors, now)

	event := &Event{
		ID:         id.NewRiskEventID(),
		TenantID:   tenantID,
		UserID:     userID,
		EventType:  "risk_assessment_" + string(level),
		Severity:   level,
		Status:     StatusDetected,
		Score:      composite,
		Confidence: profile.Confidence,
		Factors:    factors,
		Request:    sig.Request,
		Traces:     traces,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return Result{}, err
	}
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return Result{}, err
	}

	if s.audit != nil && level.IsHighRisk() {
		_, _ = s.audit.Record(ctx, audit.Event{
			TenantID:     tenantID,
			UserID:       userID,
			EventType:    audit.EventRiskEscalated,
			Action:       event.EventType,
			ResourceType: "risk_event",
			ResourceID:   event.ID.String(),
			Metadata: map[string]any{
				"score": composite,
				"level": string(level),
			},
		})
	}

	return Result{
		Score:           composite,
		Level:           level,
		Trend:           profile.Trend,
		Confidence:      profile.Confidence,
		Recommendations: recommendationsFor(profile, level),
		Event:           event,
	}, nil
}

// computeFactors derives the six §4.4 factors from sig and profile
// history. anomalyRisk alone is delegated to the pluggable scorer, run
// with a bounded budget via errgroup so a slow/unavailable scorer never
// blocks the other five deterministic factors.
func (s *Service) computeFactors(ctx context.Context, profile *Profile, sig Signals) (Factors, []DetectionTrace) {
	var traces []DetectionTrace
	var f Factors

	deviceRisk := s.deviceRisk(profile, sig, &traces)
	f.Device = &deviceRisk

	locationRisk := s.locationRisk(profile, sig, &traces)
	f.Location = &locationRisk

	behavioralRisk := s.behavioralRisk(profile, sig, &traces)
	f.Behavioral = &behavioralRisk

	temporalRisk := s.temporalRisk(profile, sig, &traces)
	f.Temporal = &temporalRisk

	velocityRisk := s.velocityRisk(sig, &traces)
	f.Velocity = &velocityRisk

	if s.scorer != nil {
		if anomaly, ok := s.anomalyRisk(ctx, profile, &traces); ok {
			f.Anomaly = &anomaly
		}
	}

	return f, traces
}

func (s *Service) deviceRisk(profile *Profile, sig Signals, traces *[]DetectionTrace) float64 {
	var risk float64
	if sig.DeviceFingerprint == "" || !profile.TrustedDevices[sig.DeviceFingerprint] {
		risk += 60
		*traces = append(*traces, DetectionTrace{Rule: "device.untrusted_fingerprint", Detail: sig.DeviceFingerprint})
	}
	if !sig.KnownAAGUID {
		risk += 25
		*traces = append(*traces, DetectionTrace{Rule: "device.new_aaguid"})
	}
	if sig.Jailbroken {
		risk += 40
		*traces = append(*traces, DetectionTrace{Rule: "device.jailbroken"})
	}
	return clamp100(risk)
}

func (s *Service) locationRisk(profile *Profile, sig Signals, traces *[]DetectionTrace) float64 {
	var risk float64
	locKey := sig.Country + "/" + sig.Region
	if sig.Country != "" && !profile.TrustedLocations[locKey] && !profile.TrustedLocations[sig.Country] {
		risk += 55
		*traces = append(*traces, DetectionTrace{Rule: "location.untrusted_country", Detail: sig.Country})
	}
	if profile.SuspiciousIPs[sig.Request.IP] {
		risk += 45
		*traces = append(*traces, DetectionTrace{Rule: "location.suspicious_ip", Detail: sig.Request.IP})
	}
	return clamp100(risk)
}

func (s *Service) behavioralRisk(profile *Profile, sig Signals, traces *[]DetectionTrace) float64 {
	if profile.Behavior.ObservationCount == 0 {
		return 0
	}
	var risk float64
	if profile.Behavior.TypicalUserAgent != "" && !sameUAFamily(profile.Behavior.TypicalUserAgent, sig.Request.UserAgent) {
		risk += 50
		*traces = append(*traces, DetectionTrace{Rule: "behavioral.unfamiliar_user_agent"})
	}
	return clamp100(risk)
}

func sameUAFamily(typical, observed string) bool {
	if observed == "" {
		return true
	}
	a := useragent.New(typical)
	b := useragent.New(observed)
	aName, _ := a.Browser()
	bName, _ := b.Browser()
	return strings.EqualFold(aName, bName) && a.OSInfo().Name == b.OSInfo().Name
}

func (s *Service) temporalRisk(profile *Profile, sig Signals, traces *[]DetectionTrace) float64 {
	if profile.Behavior.ObservationCount == 0 {
		return 0
	}
	hour := sig.AssessedAt.UTC().Hour()
	if profile.Behavior.TypicalHoursUTC[hour] == 0 {
		*traces = append(*traces, DetectionTrace{Rule: "temporal.outside_active_window"})
		return 50
	}
	return 0
}

func (s *Service) velocityRisk(sig Signals, traces *[]DetectionTrace) float64 {
	if sig.VelocityLimit <= 0 || sig.AttemptsInWindow <= sig.VelocityLimit {
		return 0
	}
	over := sig.AttemptsInWindow - sig.VelocityLimit
	*traces = append(*traces, DetectionTrace{Rule: "velocity.limit_exceeded"})
	return clamp100(float64(over) * 20)
}

func (s *Service) anomalyRisk(ctx context.Context, profile *Profile, traces *[]DetectionTrace) (float64, bool) {
	budgetCtx, cancel := context.WithTimeout(ctx, anomalyScorerBudget)
	defer cancel()

	type outcome struct {
		value      float64
		confidence float64
	}
	var out outcome
	g, gctx := errgroup.WithContext(budgetCtx)
	g.Go(func() error {
		v, c, err := s.scorer.Score(gctx, profile.MLFeatureVector)
		if err != nil {
			return err
		}
		out = outcome{value: v, confidence: c}
		return nil
	})
	if err := g.Wait(); err != nil {
		*traces = append(*traces, DetectionTrace{Rule: "anomaly.scorer_unavailable", Detail: err.Error()})
		return 0, false
	}
	*traces = append(*traces, DetectionTrace{Rule: "anomaly.scored"})
	return clamp100(out.value * 100), true
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// updateProfile applies the §4.4 "Behavior on update" rules in place.
func (s *Service) updateProfile(p *Profile, composite float64, level Level, factors Factors, now time.Time) {
	if p.AssessmentCount == 0 {
		p.Baseline = composite
	}
	p.Current = composite
	p.Level = level
	p.LastFactors = factors
	if composite > p.Peak {
		p.Peak = composite
	}
	p.AssessmentCount++
	if level.IsHighRisk() {
		p.HighRiskEventCount++
		t := now
		p.LastHighRiskAt = &t
	}

	p.recentScores = append(p.recentScores, composite)
	if len(p.recentScores) > volatilityWindow {
		p.recentScores = p.recentScores[len(p.recentScores)-volatilityWindow:]
	}
	p.Trend = computeTrend(p.Baseline, composite, p.recentScores)

	p.RequiresMonitoring = level.IsHighRisk() ||
		p.Trend == TrendIncreasing ||
		p.Trend == TrendVolatile ||
		p.Threat.SecurityViolations > 0

	if p.Threat.SecurityViolations >= 3 && !p.Flagged {
		p.Flagged = true
		p.FlagReason = "three_security_violations_in_retention_window"
		t := now
		p.FlaggedAt = &t
	}

	p.UpdatedAt = now
}

// computeTrend implements §4.4's trend rule: ±5 comparison against
// baseline, with a volatility override when the recent-score window
// crosses the baseline band at least volatilityCrossings times — the
// algorithm spec.md §9's Open Question fixes in place of the source's
// stubbed detector.
func computeTrend(baseline, current float64, recent []float64) Trend {
	if volatile(baseline, recent) {
		return TrendVolatile
	}
	delta := current - baseline
	switch {
	case delta > trendThreshold:
		return TrendIncreasing
	case delta < -trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func volatile(baseline float64, recent []float64) bool {
	if len(recent) < 2 {
		return false
	}
	lower, upper := baseline-trendThreshold, baseline+trendThreshold
	crossings := 0
	prevAbove := recent[0] > upper
	prevBelow := recent[0] < lower
	for _, v := range recent[1:] {
		above := v > upper
		below := v < lower
		if above != prevAbove || below != prevBelow {
			crossings++
		}
		prevAbove, prevBelow = above, below
	}
	return crossings >= volatilityCrossings
}

// recommendationsFor derives the priority-ordered recommendation list
// from the current level and profile state.
func recommendationsFor(p *Profile, level Level) []Recommendation {
	candidates := map[Recommendation]bool{}

	switch level {
	case LevelCritical:
		candidates[RecommendRequireImmediateVerification] = true
		candidates[RecommendBlockSuspiciousActivities] = true
		candidates[RecommendEscalateToSecurityTeam] = true
	case LevelVeryHigh:
		candidates[RecommendBlockSuspiciousActivities] = true
		candidates[RecommendEscalateToSecurityTeam] = true
		candidates[RecommendRequireStepUpAuthentication] = true
	case LevelHigh:
		candidates[RecommendRequireStepUpAuthentication] = true
		candidates[RecommendIncreaseMonitoring] = true
		candidates[RecommendLimitSensitiveOperations] = true
	case LevelMedium:
		candidates[RecommendMonitorBehaviorChanges] = true
		candidates[RecommendInvestigateAnomalousPatterns] = true
	case LevelLow:
		candidates[RecommendReviewRecentActivities] = true
	case LevelVeryLow:
		if p.AssessmentCount <= 1 {
			candidates[RecommendEstablishDeviceTrust] = true
		}
	}
	if p.Flagged {
		candidates[RecommendEscalateToSecurityTeam] = true
	}
	if p.RequiresMonitoring {
		candidates[RecommendIncreaseMonitoring] = true
	}

	var out []Recommendation
	for _, r := range recommendationPriority {
		if candidates[r] {
			out = append(out, r)
		}
	}
	return out
}

// ReportOutcome transitions a RiskEvent's lifecycle status and folds
// the disposition back into the profile: confirmed events increment
// threat-indicator counters (and the security-violation counter, which
// drives the §4.4 three-strike auto-flag), false positives are
// recorded so a future scoring pass can discount that factor
// combination's confidence.
func (s *Service) ReportOutcome(ctx context.Context, tenantID id.TenantID, eventID id.RiskEventID, status EventStatus) error {
	event, err := s.store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return err
	}
	if !CanTransition(event.Status, status) {
		return sentinel.ErrInvalidState
	}
	if err := s.store.UpdateEventStatus(ctx, tenantID, eventID, status); err != nil {
		return err
	}

	profile, err := s.store.GetProfile(ctx, tenantID, event.UserID)
	if err == sentinel.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	switch status {
	case StatusConfirmed:
		profile.Threat.ConfirmedAnomalies++
		if event.Severity.IsHighRisk() {
			profile.Threat.SecurityViolations++
			profile.SecurityViolationCount++
		}
		if profile.Threat.SecurityViolations >= 3 && !profile.Flagged {
			profile.Flagged = true
			profile.FlagReason = "three_security_violations_in_retention_window"
			t := time.Now()
			profile.FlaggedAt = &t
		}
	case StatusFalsePositive:
		profile.Threat.FalsePositives++
		profile.Confidence = clampConfidence(profile.Confidence - 0.05)
	}
	profile.UpdatedAt = time.Now()
	return s.store.SaveProfile(ctx, profile)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// TrustDevice records fingerprint as trusted for the user, per §4.4's
// trusted-devices set.
func (s *Service) TrustDevice(ctx context.Context, tenantID id.TenantID, userID id.UserID, fingerprint string) error {
	profile, err := s.getOrCreateProfile(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	profile.TrustedDevices[fingerprint] = true
	profile.UpdatedAt = time.Now()
	return s.store.SaveProfile(ctx, profile)
}

// TrustLocation records a country (or country/region) as trusted.
func (s *Service) TrustLocation(ctx context.Context, tenantID id.TenantID, userID id.UserID, location string) error {
	profile, err := s.getOrCreateProfile(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	profile.TrustedLocations[location] = true
	profile.UpdatedAt = time.Now()
	return s.store.SaveProfile(ctx, profile)
}

func (s *Service) getOrCreateProfile(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*Profile, error) {
	profile, err := s.store.GetProfile(ctx, tenantID, userID)
	if err == sentinel.ErrNotFound {
		return &Profile{
			TenantID:         tenantID,
			UserID:           userID,
			TrustedDevices:   map[string]bool{},
			TrustedLocations: map[string]bool{},
			SuspiciousIPs:    map[string]bool{},
			Confidence:       1.0,
			CreatedAt:        time.Now(),
		}, nil
	}
	return profile, err
}
