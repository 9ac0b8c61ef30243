// Package webauthn implements the relying-party side of WebAuthn Level 3
// registration and authentication ceremonies against internal/credential
// as the credential store and internal/audit for ceremony outcomes.
package webauthn

import (
	"time"

	id "aegis/pkg/domain"
)

// Purpose distinguishes a registration challenge from an authentication
// challenge; Consume only accepts a challenge for the purpose it was
// issued for. Challenges are stored by challenge ID, so a (tenant, user)
// pair can hold several outstanding challenges of the same purpose.
type Purpose string

const (
	PurposeRegistration Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// ChallengeTTL is the hard, non-extendable lifetime of a stored
// challenge per spec.md §4.1 step 1.
const ChallengeTTL = 5 * time.Minute

// Challenge is a server-held, single-use nonce issued by Options and
// consumed atomically by the matching Verify call.
type Challenge struct {
	ID        id.ChallengeID
	TenantID  id.TenantID
	UserID    id.UserID
	Purpose   Purpose
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FailureKind is the closed enum of ceremony failure reasons spec.md
// §4.1 lists. A failed ceremony records an audit event whose Metadata
// "reason" carries the error text; the event has no severity attached.
type FailureKind string

const (
	FailureChallengeMismatch  FailureKind = "challenge_mismatch"
	FailureOriginMismatch     FailureKind = "origin_mismatch"
	FailureRPIDMismatch       FailureKind = "rp_id_mismatch"
	FailureSignatureInvalid   FailureKind = "signature_invalid"
	FailureCounterRollback    FailureKind = "counter_rollback"
	FailureUVRequired         FailureKind = "uv_required"
	FailureCredentialRevoked  FailureKind = "credential_revoked"
	FailureCredentialUnknown FailureKind = "credential_unknown"
	FailureAttestationUntrusted FailureKind = "attestation_untrusted"
	FailureExpiredChallenge   FailureKind = "expired_challenge"
)

// CeremonyError wraps a FailureKind so callers can branch on it with
// errors.As while still getting a human-readable message.
type CeremonyError struct {
	Kind FailureKind
	Msg  string
}

func (e *CeremonyError) Error() string { return e.Kind.String() + ": " + e.Msg }

func (k FailureKind) String() string { return string(k) }

func fail(kind FailureKind, msg string) error {
	return &CeremonyError{Kind: kind, Msg: msg}
}

// RegistrationOptions is returned by RegistrationOptionsFor for a
// registration ceremony.
type RegistrationOptions struct {
	Challenge              []byte
	RPID                   string
	RPName                 string
	UserHandle             []byte
	PubKeyCredParams       []int // COSE algorithm identifiers, ES256 first
	ExcludeCredentialIDs   [][]byte
	AuthenticatorSelection AuthenticatorSelection
	Attestation            string
	ChallengeID            id.ChallengeID
}

// AuthenticatorSelection mirrors the WebAuthn dictionary of the same name.
type AuthenticatorSelection struct {
	AuthenticatorAttachment string // "platform" | "cross-platform" | ""
	RequireResidentKey      bool
	UserVerification        string // "required" | "preferred" | "discouraged"
}

// AuthenticationOptions is returned by AuthenticationOptionsFor for an
// authentication ceremony.
type AuthenticationOptions struct {
	Challenge        []byte
	RPID             string
	AllowCredentials [][]byte
	UserVerification string
	Timeout          time.Duration
	ChallengeID      id.ChallengeID
}

// AttestationSubmission is the caller-supplied payload for VerifyAttestation.
type AttestationSubmission struct {
	ClientDataJSON    []byte
	AttestationObject []byte
	ChallengeID       id.ChallengeID
}

// AssertionSubmission is the caller-supplied payload for VerifyAssertion.
type AssertionSubmission struct {
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	CredentialID      []byte
	ChallengeID       id.ChallengeID
}

// Principal is the verified identity VerifyAssertion hands to the
// session manager, per spec.md §4.1 "Outputs".
type Principal struct {
	TenantID     id.TenantID
	UserID       id.UserID
	CredentialID id.CredentialID
}

// RPPolicy carries the tenant-scoped relying-party configuration: the
// expected RP ID, origin allow-list, user-verification requirement, and
// whether enterprise attestation is permitted.
type RPPolicy struct {
	RPID                     string
	RPName                   string
	AllowedOrigins           []string
	RequireUserVerification  bool
	AllowEnterpriseAttestation bool
	StrictCounterPolicy      bool // mark-compromised (not just suspicious) on rollback
}
