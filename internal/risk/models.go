// Package risk implements the adaptive risk-scoring engine from
// spec.md §4.4: six weighted factors folded into a composite score,
// a durable per-(tenant,user) profile, and an append-only stream of
// RiskEvents that mirror every assessment for later investigation.
package risk

import (
	"time"

	id "aegis/pkg/domain"
)

// Level is the categorical risk band a score maps onto. It is always a
// pure function of the numeric score (LevelForScore), never stored
// independently of it.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very_high"
	LevelCritical Level = "critical"
)

// LevelForScore implements the §4.4 threshold table. Boundaries are
// half-open on the low side and closed at 100: [0,20) very_low,
// [20,40) low, [40,60) medium, [60,75) high, [75,90) very_high,
// [90,100] critical.
func LevelForScore(score float64) Level {
	switch {
	case score >= 90:
		return LevelCritical
	case score >= 75:
		return LevelVeryHigh
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Trend classifies how current score compares to the profile's baseline.
type Trend string

const (
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendVolatile   Trend = "volatile"
)

// trendThreshold is the ±5 band §4.4 fixes for baseline comparison.
const trendThreshold = 5.0

// volatilityWindow (K) is how many recent assessments the volatility
// detector inspects for baseline-band crossings; fixed per the §9 Open
// Question decision recorded in DESIGN.md.
const volatilityWindow = 10

// volatilityCrossings is the minimum number of baseline-band crossings
// within the window that flags the trend volatile.
const volatilityCrossings = 3

// FactorWeights are the six default weights from spec.md §4.4. They sum
// to 1.0; Composite divides by the sum of weights actually present so a
// missing factor (most commonly anomalyRisk, on scorer timeout) never
// silently drags the score toward zero.
type FactorWeights struct {
	Device     float64
	Location   float64
	Behavioral float64
	Temporal   float64
	Velocity   float64
	Anomaly    float64
}

// DefaultWeights returns the spec-fixed default weighting.
func DefaultWeights() FactorWeights {
	return FactorWeights{
		Device:     0.25,
		Location:   0.20,
		Behavioral: 0.25,
		Temporal:   0.15,
		Velocity:   0.10,
		Anomaly:    0.05,
	}
}

// Factors holds the per-factor scores (each in [0,100]) computed for one
// assessment. A nil pointer means the factor was not computed for this
// assessment (e.g. the anomaly scorer was unavailable) and is excluded
// from both numerator and denominator of Composite.
type Factors struct {
	Device     *float64
	Location   *float64
	Behavioral *float64
	Temporal   *float64
	Velocity   *float64
	Anomaly    *float64
}

// Composite folds Factors into one score using w, per §4.4:
// composite = Σ weight·factor / Σ weight over present factors.
func (f Factors) Composite(w FactorWeights) float64 {
	var num, den float64
	add := func(v *float64, weight float64) {
		if v == nil {
			return
		}
		num += weight * (*v)
		den += weight
	}
	add(f.Device, w.Device)
	add(f.Location, w.Location)
	add(f.Behavioral, w.Behavioral)
	add(f.Temporal, w.Temporal)
	add(f.Velocity, w.Velocity)
	add(f.Anomaly, w.Anomaly)
	if den == 0 {
		return 0
	}
	composite := num / den
	if composite < 0 {
		return 0
	}
	if composite > 100 {
		return 100
	}
	return composite
}

// Recommendation is one entry of the closed enum spec.md §4.4 names,
// returned from highest to lowest priority.
type Recommendation string

const (
	RecommendRequireImmediateVerification Recommendation = "require_immediate_verification"
	RecommendBlockSuspiciousActivities    Recommendation = "block_suspicious_activities"
	RecommendEscalateToSecurityTeam       Recommendation = "escalate_to_security_team"
	RecommendRequireStepUpAuthentication  Recommendation = "require_step_up_authentication"
	RecommendIncreaseMonitoring           Recommendation = "increase_monitoring"
	RecommendLimitSensitiveOperations     Recommendation = "limit_sensitive_operations"
	RecommendMonitorBehaviorChanges       Recommendation = "monitor_behavior_changes"
	RecommendInvestigateAnomalousPatterns Recommendation = "investigate_anomalous_patterns"
	RecommendReviewRecentActivities       Recommendation = "review_recent_activities"
	RecommendEstablishDeviceTrust         Recommendation = "establish_device_trust"
)

// recommendationPriority fixes the output ordering spec.md §4.4 lists.
var recommendationPriority = []Recommendation{
	RecommendRequireImmediateVerification,
	RecommendBlockSuspiciousActivities,
	RecommendEscalateToSecurityTeam,
	RecommendRequireStepUpAuthentication,
	RecommendIncreaseMonitoring,
	RecommendLimitSensitiveOperations,
	RecommendMonitorBehaviorChanges,
	RecommendInvestigateAnomalousPatterns,
	RecommendReviewRecentActivities,
	RecommendEstablishDeviceTrust,
}

// BehaviorPatterns records the rolling behavioral baseline a user's
// authentications are compared against for the behavioralRisk and
// temporalRisk factors.
type BehaviorPatterns struct {
	TypicalHoursUTC  map[int]int // hour-of-day -> observation count
	TypicalUserAgent string
	ObservationCount int64
}

// ThreatIndicators counts confirmed threat categories surfaced by
// ReportOutcome, feeding the auto-flag rule.
type ThreatIndicators struct {
	SecurityViolations int
	ConfirmedAnomalies int
	FalsePositives     int
}

// Profile is the durable per-(tenant,user) risk state spec.md §3 names
// RiskProfile.
type Profile struct {
	TenantID  id.TenantID
	UserID    id.UserID
	Baseline  float64
	Current   float64
	Peak      float64
	Level     Level
	Trend     Trend
	Confidence float64

	TrustedDevices   map[string]bool
	TrustedLocations map[string]bool
	SuspiciousIPs    map[string]bool

	Behavior BehaviorPatterns
	LastFactors Factors
	MLFeatureVector []float64
	Threat          ThreatIndicators

	AssessmentCount      int64
	HighRiskEventCount   int64
	SecurityViolationCount int64
	LastHighRiskAt       *time.Time

	RequiresMonitoring bool
	Flagged            bool
	FlagReason         string
	FlaggedAt          *time.Time

	// recentScores is the bounded ring of the last volatilityWindow
	// composite scores, oldest first, used by the trend detector. Not
	// part of the public contract; stores persist it as an opaque slice.
	recentScores []float64

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// IsHighRisk reports whether level is high or above, the threshold
// §4.4's "high-risk" bookkeeping (counters, monitoring trigger) uses.
func (l Level) IsHighRisk() bool {
	switch l {
	case LevelHigh, LevelVeryHigh, LevelCritical:
		return true
	}
	return false
}

// EventStatus is the RiskEvent lifecycle state, a DAG rooted at Detected
// per spec.md §3's RiskEvent invariant.
type EventStatus string

const (
	StatusDetected      EventStatus = "detected"
	StatusAnalyzing     EventStatus = "analyzing"
	StatusConfirmed     EventStatus = "confirmed"
	StatusFalsePositive EventStatus = "false_positive"
	StatusMitigated     EventStatus = "mitigated"
	StatusResolved      EventStatus = "resolved"
)

// validTransitions enumerates the DAG edges §3 requires: detected may
// move to analyzing or directly to a terminal disposition; analyzing
// resolves to one of the three dispositions; confirmed/mitigated both
// can close as resolved; false_positive is terminal.
var validTransitions = map[EventStatus]map[EventStatus]bool{
	StatusDetected: {
		StatusAnalyzing:     true,
		StatusConfirmed:     true,
		StatusFalsePositive: true,
		StatusMitigated:     true,
	},
	StatusAnalyzing: {
		StatusConfirmed:     true,
		StatusFalsePositive: true,
		StatusMitigated:     true,
	},
	StatusConfirmed: {
		StatusMitigated: true,
		StatusResolved:  true,
	},
	StatusMitigated: {
		StatusResolved: true,
	},
}

// CanTransition reports whether moving from from to to is a legal edge
// in the lifecycle DAG.
func CanTransition(from, to EventStatus) bool {
	return validTransitions[from][to]
}

// RequestContext carries the request-scoped signals an assessment was
// computed from, retained on the RiskEvent for later investigation.
type RequestContext struct {
	IP             string
	UserAgent      string
	DeviceFingerprint string
	SessionID      id.SessionID
	CredentialID   id.CredentialID
	Country        string
	Region         string
	City           string
}

// DetectionTrace records one rule firing during factor computation, for
// audit/debugging of why a given score was produced.
type DetectionTrace struct {
	Rule   string
	Detail string
}

// Event is one append-only RiskEvent per spec.md §3.
type Event struct {
	ID         id.RiskEventID
	TenantID   id.TenantID
	UserID     id.UserID
	EventType  string
	Severity   Level
	Status     EventStatus
	Score      float64
	Confidence float64
	Factors    Factors
	Request    RequestContext
	MLAnalysis map[string]any
	Traces     []DetectionTrace
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
