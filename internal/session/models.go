// Package session implements the session manager from spec.md §4.2:
// token issuance backed by an indexed SHA-256 hash (never the raw
// token), single-use refresh rotation, concurrent-session eviction,
// and the risk-driven security flags that gate step-up authentication.
package session

import (
	"time"

	id "aegis/pkg/domain"
)

// Status is the session lifecycle state. Exactly one terminal
// transition (expired|revoked|terminated) is legal, per spec.md §3.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusRevoked    Status = "revoked"
	StatusTerminated Status = "terminated"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusExpired, StatusRevoked, StatusTerminated:
		return true
	}
	return false
}

// Type is the client category a session was minted for.
type Type string

const (
	TypeWeb     Type = "web"
	TypeMobile  Type = "mobile"
	TypeAPI     Type = "api"
	TypeDesktop Type = "desktop"
)

// SecurityFlags are derived from RiskScore by UpdateRiskScore, never
// set directly by callers.
type SecurityFlags struct {
	IsHighRisk  bool
	RequiresMFA bool
}

// highRiskThreshold and requiresMFAThreshold are spec.md §4.2's fixed
// risk-score gates for the derived security flags.
const (
	highRiskThreshold   = 70.0
	requiresMFAThreshold = 50.0
)

// DeriveSecurityFlags computes SecurityFlags from a risk score per
// spec.md §4.2: isHighRisk iff score ≥ 70, requiresMfa iff score ≥ 50.
func DeriveSecurityFlags(riskScore float64) SecurityFlags {
	return SecurityFlags{
		IsHighRisk:  riskScore >= highRiskThreshold,
		RequiresMFA: riskScore >= requiresMFAThreshold,
	}
}

// GeoTriple is the coarse geographic location recorded with a session.
type GeoTriple struct {
	Country string
	Region  string
	City    string
}

// Session is the durable record spec.md §3 names. Token and
// RefreshToken are never persisted; only TokenHash (the lookup index)
// and EncryptedRefreshToken (at-rest ciphertext, decrypted only to
// compare against a presented refresh token during Refresh) survive
// past Create.
type Session struct {
	ID                     id.SessionID
	TenantID               id.TenantID
	UserID                 id.UserID
	CredentialID           id.CredentialID
	TokenHash              [32]byte
	EncryptedRefreshToken  []byte
	Status                 Status
	Type                   Type
	ExpiresAt              time.Time
	LastActivityAt         time.Time
	IP                     string
	UserAgent              string
	DeviceFingerprint      string
	Geo                    GeoTriple
	RiskScore              float64
	Flags                  SecurityFlags
	ActivityCount          int64
	CreatedAt              time.Time
	TerminatedAt           *time.Time
	TerminationReason      string
	Version                int
}

// IsActive is derived solely from Status per the Open Question decision
// recorded in DESIGN.md: there is no separate stored boolean.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// DurationSeconds is (terminated_at ∨ now) − created_at, per spec.md §3.
func (s *Session) DurationSeconds(now time.Time) int64 {
	end := now
	if s.TerminatedAt != nil {
		end = *s.TerminatedAt
	}
	return int64(end.Sub(s.CreatedAt).Seconds())
}

// IssuedTokens is the one-time plaintext material Create and Refresh
// hand back to the caller; never retrievable afterward.
type IssuedTokens struct {
	SessionToken string
	RefreshToken string
	ExpiresAt    time.Time
}
