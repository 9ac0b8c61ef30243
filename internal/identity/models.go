// Package identity implements the multi-context identity graph from
// spec.md §4.6: one master Person binds to many contextual Identities,
// each carrying role-scoped Contexts, each Context carrying Attributes
// with independent verification state and sensitivity.
package identity

import (
	"time"

	id "aegis/pkg/domain"
)

// PersonStatus is the lifecycle state of a master Person record.
type PersonStatus string

const (
	PersonActive    PersonStatus = "active"
	PersonSuspended PersonStatus = "suspended"
	PersonMerged    PersonStatus = "merged" // absorbed into another Person by a dedup operation
)

// Person is the master human record spec.md §4.6 binds Identities to.
type Person struct {
	ID        id.PersonID
	TenantID  id.TenantID
	Status    PersonStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// PrimaryKeyType is the kind of natural key an Identity is resolved by.
type PrimaryKeyType string

const (
	PrimaryKeyEmail      PrimaryKeyType = "email"
	PrimaryKeyNationalID PrimaryKeyType = "national_id"
	PrimaryKeyMobile     PrimaryKeyType = "mobile"
)

// IdentityStatus is the lifecycle state of an Identity.
type IdentityStatus string

const (
	IdentityActive   IdentityStatus = "active"
	IdentityInactive IdentityStatus = "inactive"
)

// Identity is one (tenant, primary-key-type, primary-key-value) binding
// to a Person, per spec.md §4.6's uniqueness invariant.
type Identity struct {
	ID             id.IdentityID
	TenantID       id.TenantID
	PersonID       id.PersonID
	PrimaryKeyType PrimaryKeyType
	PrimaryKeyValue string
	Status         IdentityStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

// VerificationLevel is the ordinal evidence-ladder step spec.md §4.6/§9
// fixes as monotone non-decreasing per Context.
type VerificationLevel int

const (
	VerificationNone VerificationLevel = iota
	VerificationBasic
	VerificationStandard
	VerificationEnhanced
	VerificationComplete
)

func (v VerificationLevel) String() string {
	switch v {
	case VerificationNone:
		return "none"
	case VerificationBasic:
		return "basic"
	case VerificationStandard:
		return "standard"
	case VerificationEnhanced:
		return "enhanced"
	case VerificationComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParseVerificationLevel maps a wire string back onto the ordinal, for
// API boundaries that exchange the level by name.
func ParseVerificationLevel(s string) (VerificationLevel, bool) {
	switch s {
	case "none":
		return VerificationNone, true
	case "basic":
		return VerificationBasic, true
	case "standard":
		return VerificationStandard, true
	case "enhanced":
		return VerificationEnhanced, true
	case "complete":
		return VerificationComplete, true
	default:
		return 0, false
	}
}

// TrustScoreEntry is one bounded-history record of a Context's trust
// score, written on every UpdateContextTrustScore call per spec.md §4.6.
type TrustScoreEntry struct {
	Score     float64
	Reason    string
	RecordedAt time.Time
}

// trustHistoryLimit bounds the per-context trust-score history.
const trustHistoryLimit = 50

// significantDegradationDelta and significantDegradationFloor define
// spec.md §4.6's "significant_trust_degradation" risk-flag rule: a drop
// of at least this much that lands below this floor.
const (
	significantDegradationDelta = 0.2
	significantDegradationFloor = 0.4
)

// ContextType is the role-scoped view an Identity presents spec.md §4.6
// names by example (citizen, patient, customer); left open for
// tenant-defined values rather than a closed enum.
type ContextType string

// Context is one role-scoped view of an Identity, per spec.md §4.6.
type Context struct {
	ID                id.ContextID
	TenantID          id.TenantID
	IdentityID        id.IdentityID
	ContextType       ContextType
	VerificationLevel VerificationLevel
	TrustScore        float64
	TrustHistory      []TrustScoreEntry
	FlaggedDegraded   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int
}

// Sensitivity classifies how carefully an Attribute's value must be
// handled; spec.md §4.6 fixes "high" and "critical" as the band that
// demotes a copied/mutated attribute to pending and schedules
// re-verification.
type Sensitivity int

const (
	SensitivityLow Sensitivity = iota
	SensitivityMedium
	SensitivityHigh
	SensitivityCritical
)

func (s Sensitivity) String() string {
	switch s {
	case SensitivityLow:
		return "low"
	case SensitivityMedium:
		return "medium"
	case SensitivityHigh:
		return "high"
	case SensitivityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RequiresReverification reports whether s is at or above the §4.6
// "sensitivity ≥ high" threshold.
func (s Sensitivity) RequiresReverification() bool {
	return s >= SensitivityHigh
}

// VerificationStatus is the per-attribute verification lifecycle.
type VerificationStatus string

const (
	VerificationStatusUnverified VerificationStatus = "unverified"
	VerificationStatusPending    VerificationStatus = "pending"
	VerificationStatusVerified   VerificationStatus = "verified"
	VerificationStatusRejected   VerificationStatus = "rejected"
)

// Attribute is one key/value fact attached to a Context, per spec.md
// §4.6. Key is stable once created; Value is mutable, and mutating it
// on a verified attribute forces VerificationStatus back to pending.
type Attribute struct {
	ID                 id.AttributeID
	TenantID           id.TenantID
	ContextID          id.ContextID
	Key                string
	Value              string
	Sensitivity        Sensitivity
	VerificationStatus VerificationStatus
	VerificationSource string
	VerificationNotes  string
	EvidenceMetadata   map[string]any
	VerifiedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}
