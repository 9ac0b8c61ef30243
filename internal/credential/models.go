// Package credential implements the WebAuthn credential store: persistence,
// lookup, and the policy transitions spec.md §4.3 names (suspicious,
// compromised, revoked, expired), built around the signature-counter
// anti-replay protocol §4.1 and §4.3 both depend on.
package credential

import (
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/cose"
)

// DeviceType classifies the authenticator form factor.
type DeviceType string

const (
	DeviceTypePlatform      DeviceType = "platform"
	DeviceTypeCrossPlatform DeviceType = "cross-platform"
	DeviceTypeUnknown       DeviceType = "unknown"
)

// AttestationType is the WebAuthn attestation conveyance actually used.
type AttestationType string

const (
	AttestationNone       AttestationType = "none"
	AttestationIndirect   AttestationType = "indirect"
	AttestationDirect     AttestationType = "direct"
	AttestationEnterprise AttestationType = "enterprise"
)

// Status is the credential's lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusRevoked     Status = "revoked"
	StatusCompromised Status = "compromised"
	StatusExpired     Status = "expired"
	StatusSuspicious  Status = "suspicious"
	StatusQuarantined Status = "quarantined"
)

// Transport is a WebAuthn AuthenticatorTransport value.
type Transport string

const (
	TransportUSB      Transport = "usb"
	TransportNFC      Transport = "nfc"
	TransportBLE      Transport = "ble"
	TransportInternal Transport = "internal"
	TransportHybrid   Transport = "hybrid"
)

// SecurityFlags records policy-relevant derived state for a credential.
type SecurityFlags struct {
	HighRisk              bool
	RequiresReverify      bool
	SuspiciousCounterJump bool
}

// Credential is one WebAuthn authenticator bound to a user. The public
// key is never exposed on read APIs (§3 invariant); callers needing it
// for assertion verification use the store directly inside this package
// or internal/webauthn.
type Credential struct {
	ID               id.CredentialID
	TenantID         id.TenantID
	UserID           id.UserID
	CredentialID     []byte // opaque WebAuthn credential ID, globally unique
	CredentialIDHash [32]byte
	PublicKey        cose.Key
	SignCount       uint32
	DeviceType      DeviceType
	CredentialType  string // always "public-key" per WebAuthn, kept explicit
	AttestationType AttestationType
	Status          Status
	Transports      []Transport
	BackupEligible  bool
	BackupState     bool
	Nickname        string
	AAGUID          [16]byte
	UsageCount      int64
	RiskScore       int
	LastUsedAt      time.Time
	ExpiresAt       *time.Time
	Flags           SecurityFlags
	AttestationBlob []byte // sensitive; never included in redacted projections
	CreatedAt       time.Time
	UpdatedAt       time.Time
	RevokedAt       *time.Time
}

// IsUsable reports whether the credential may be used in an assertion.
func (c Credential) IsUsable() bool {
	switch c.Status {
	case StatusActive:
		return c.ExpiresAt == nil || c.ExpiresAt.After(time.Now())
	default:
		return false
	}
}

// Redacted returns a copy safe for read APIs: the public key and
// attestation blob are stripped per §3's "public key is never returned
// on read APIs" invariant.
func (c Credential) Redacted() Credential {
	c.PublicKey = cose.Key{}
	c.AttestationBlob = nil
	return c
}
