package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric emitted across the module's
// service layers, per SPEC_FULL.md §3's component list (webauthn
// ceremony latency, session churn, risk score distribution, audit
// append latency, chain-verify duration).
type Metrics struct {
	WebAuthnCeremonyLatency *prometheus.HistogramVec
	WebAuthnCeremonyFailures *prometheus.CounterVec

	SessionsCreated  prometheus.Counter
	SessionsRevoked  *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge

	RiskScore        prometheus.Histogram
	RiskAssessments  *prometheus.CounterVec

	AuditAppendLatency prometheus.Histogram
	AuditChainVerifyDuration prometheus.Histogram

	UserLockouts prometheus.Counter
}

// New creates and registers every metric.
func New() *Metrics {
	return &Metrics{
		WebAuthnCeremonyLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_webauthn_ceremony_latency_seconds",
			Help:    "Latency of WebAuthn registration/authentication ceremonies.",
			Buckets: prometheus.DefBuckets,
		}, []string{"ceremony"}),
		WebAuthnCeremonyFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_webauthn_ceremony_failures_total",
			Help: "Total WebAuthn ceremony failures by failure kind.",
		}, []string{"ceremony", "reason"}),

		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_sessions_created_total",
			Help: "Total sessions created.",
		}),
		SessionsRevoked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_sessions_revoked_total",
			Help: "Total sessions revoked, by reason.",
		}, []string{"reason"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_active_sessions",
			Help: "Current number of active sessions.",
		}),

		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_risk_score",
			Help:    "Distribution of composite risk scores produced by risk assessments.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		RiskAssessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_risk_assessments_total",
			Help: "Total risk assessments, by resulting level.",
		}, []string{"level"}),

		AuditAppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_audit_append_latency_seconds",
			Help:    "Latency of appending an event to the tamper-evident audit chain.",
			Buckets: prometheus.DefBuckets,
		}),
		AuditChainVerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_audit_chain_verify_duration_seconds",
			Help:    "Duration of a full audit chain verification walk.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		UserLockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_user_lockouts_total",
			Help: "Total user lockouts triggered by repeated failed logins.",
		}),
	}
}

func (m *Metrics) ObserveWebAuthnCeremony(ceremony string, seconds float64) {
	m.WebAuthnCeremonyLatency.WithLabelValues(ceremony).Observe(seconds)
}

func (m *Metrics) IncrementWebAuthnFailure(ceremony, reason string) {
	m.WebAuthnCeremonyFailures.WithLabelValues(ceremony, reason).Inc()
}

func (m *Metrics) IncrementSessionsCreated() {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) IncrementSessionsRevoked(reason string) {
	m.SessionsRevoked.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveRiskAssessment(level string, score float64) {
	m.RiskScore.Observe(score)
	m.RiskAssessments.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveAuditAppend(seconds float64) {
	m.AuditAppendLatency.Observe(seconds)
}

func (m *Metrics) ObserveChainVerify(seconds float64) {
	m.AuditChainVerifyDuration.Observe(seconds)
}

func (m *Metrics) IncrementUserLockouts() {
	m.UserLockouts.Inc()
}
