// Package audit implements the tamper-evident, per-tenant sequential
// audit log described in spec.md §4.5: every event is chained to the
// one before it so a single broken link flags the whole tail as
// suspect, and retention is derived from the event's type whenever the
// caller leaves RetentionUntil unset.
package audit

import (
	"time"

	id "aegis/pkg/domain"
)

// Category classifies an event for retention and routing purposes,
// mirroring the tri-publisher split the platform audit stack already
// uses for compliance/security/operations fan-out.
type Category string

const (
	CategoryCompliance Category = "compliance"
	CategorySecurity   Category = "security"
	CategoryOperations Category = "operations"
)

// EventType enumerates the IAM-domain actions the audit log records.
// Values double as the retention-policy lookup key in retentionDays.
type EventType string

const (
	EventLoginSuccess         EventType = "LOGIN_SUCCESS"
	EventLoginFailed          EventType = "LOGIN_FAILED"
	EventSecurityViolation    EventType = "SECURITY_VIOLATION"
	EventDataAccess           EventType = "DATA_ACCESS"
	EventAdminAction          EventType = "ADMIN_ACTION"
	EventConfigurationChanged EventType = "CONFIGURATION_CHANGED"

	EventCredentialRegistered  EventType = "CREDENTIAL_REGISTERED"
	EventCredentialCompromised EventType = "CREDENTIAL_COMPROMISED"
	EventCredentialRevoked     EventType = "CREDENTIAL_REVOKED"
	EventSessionCreated        EventType = "SESSION_CREATED"
	EventSessionRevoked        EventType = "SESSION_REVOKED"
	EventSessionsRevoked       EventType = "SESSIONS_REVOKED"
	EventRiskAssessed          EventType = "RISK_ASSESSED"
	EventRiskEscalated         EventType = "RISK_ESCALATED"
	EventUserLockedOut         EventType = "USER_LOCKED_OUT"
	EventUserLockoutCleared    EventType = "USER_LOCKOUT_CLEARED"
	EventUserSoftDeleted       EventType = "USER_SOFT_DELETED"
	EventIdentityVerified      EventType = "IDENTITY_VERIFIED"
	EventTrustDegraded         EventType = "TRUST_DEGRADED"
	EventChainTamperDetected   EventType = "CHAIN_TAMPER_DETECTED"
)

// eventCategories maps each event type to its Category; an event type
// absent from this map defaults to CategoryOperations in Category().
var eventCategories = map[EventType]Category{
	EventLoginSuccess:         CategoryOperations,
	EventLoginFailed:          CategorySecurity,
	EventSecurityViolation:    CategorySecurity,
	EventDataAccess:           CategoryCompliance,
	EventAdminAction:          CategoryCompliance,
	EventConfigurationChanged: CategoryCompliance,

	EventCredentialRegistered:  CategoryCompliance,
	EventCredentialCompromised: CategorySecurity,
	EventCredentialRevoked:     CategorySecurity,
	EventSessionCreated:        CategoryOperations,
	EventSessionRevoked:        CategorySecurity,
	EventSessionsRevoked:       CategorySecurity,
	EventRiskAssessed:          CategoryOperations,
	EventRiskEscalated:         CategorySecurity,
	EventUserLockedOut:         CategorySecurity,
	EventUserLockoutCleared:    CategoryOperations,
	EventUserSoftDeleted:       CategoryCompliance,
	EventIdentityVerified:      CategoryCompliance,
	EventTrustDegraded:         CategorySecurity,
	EventChainTamperDetected:   CategorySecurity,
}

// Category returns the event's category, defaulting to operations for
// any event type this package does not recognize.
func (e EventType) Category() Category {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// retentionDays implements the §4.5 retention-policy table.
var retentionDays = map[EventType]int{
	EventLoginSuccess:         90,
	EventLoginFailed:          365,
	EventSecurityViolation:    2555,
	EventDataAccess:           2555,
	EventAdminAction:          2555,
	EventConfigurationChanged: 2555,
}

const defaultRetentionDays = 365

// RetentionFor returns the retention window for an event type per the
// §4.5 table, falling back to the 365-day default.
func RetentionFor(e EventType) time.Duration {
	if days, ok := retentionDays[e]; ok {
		return time.Duration(days) * 24 * time.Hour
	}
	return defaultRetentionDays * 24 * time.Hour
}

// Severity grades security alerts; callers record it in an event's
// Metadata under "severity".
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one entry in a tenant's audit chain. EventHash, ChainHash and
// Sequence are computed by the store at append time; callers never set
// them directly.
type Event struct {
	ID             id.AuditEventID
	TenantID       id.TenantID
	UserID         id.UserID
	EventType      EventType
	Category       Category
	Action         string
	ResourceType   string
	ResourceID     string
	Timestamp      time.Time
	Metadata       map[string]any
	Sensitive      bool // redact Metadata/BeforeState/AfterState in public projections
	BeforeState    map[string]any
	AfterState     map[string]any
	RequestID      string
	ActorID        string
	Sequence       int64
	EventHash      string
	ChainHash      string
	RetentionUntil time.Time
}
