// Package domain holds tenant-scoped identifier types shared across every
// component. Each ID is a distinct UUID-backed type so the compiler
// rejects cross-entity mixups (a TenantID can never be passed where a
// UserID is expected) and so every store signature makes the tenant
// partition key explicit rather than implicit.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "aegis/pkg/domain-errors"
)

// TenantID identifies the isolation boundary every entity is scoped to.
type TenantID uuid.UUID

// UserID identifies a user within a tenant.
type UserID uuid.UUID

// CredentialID identifies a WebAuthn authenticator bound to a user.
type CredentialID uuid.UUID

// SessionID identifies an authenticated session.
type SessionID uuid.UUID

// ChallengeID identifies a WebAuthn registration/authentication challenge.
type ChallengeID uuid.UUID

// PersonID identifies the master person in the identity graph.
type PersonID uuid.UUID

// IdentityID identifies one contextual identity bound to a person.
type IdentityID uuid.UUID

// ContextID identifies a role-specific context under an identity.
type ContextID uuid.UUID

// AttributeID identifies an attribute attached to a context.
type AttributeID uuid.UUID

// RiskEventID identifies one append-only risk assessment event.
type RiskEventID uuid.UUID

// AuditEventID identifies one append-only audit log event.
type AuditEventID uuid.UUID

func (t TenantID) String() string      { return uuid.UUID(t).String() }
func (u UserID) String() string        { return uuid.UUID(u).String() }
func (c CredentialID) String() string  { return uuid.UUID(c).String() }
func (s SessionID) String() string     { return uuid.UUID(s).String() }
func (c ChallengeID) String() string   { return uuid.UUID(c).String() }
func (p PersonID) String() string      { return uuid.UUID(p).String() }
func (i IdentityID) String() string    { return uuid.UUID(i).String() }
func (c ContextID) String() string     { return uuid.UUID(c).String() }
func (a AttributeID) String() string   { return uuid.UUID(a).String() }
func (r RiskEventID) String() string   { return uuid.UUID(r).String() }
func (a AuditEventID) String() string  { return uuid.UUID(a).String() }

func (t TenantID) IsNil() bool     { return t == TenantID{} }
func (u UserID) IsNil() bool       { return u == UserID{} }
func (c CredentialID) IsNil() bool { return c == CredentialID{} }
func (s SessionID) IsNil() bool    { return s == SessionID{} }
func (c ChallengeID) IsNil() bool  { return c == ChallengeID{} }
func (p PersonID) IsNil() bool     { return p == PersonID{} }
func (i IdentityID) IsNil() bool   { return i == IdentityID{} }
func (c ContextID) IsNil() bool    { return c == ContextID{} }
func (a AttributeID) IsNil() bool  { return a == AttributeID{} }
func (r RiskEventID) IsNil() bool  { return r == RiskEventID{} }
func (a AuditEventID) IsNil() bool { return a == AuditEventID{} }

// NewTenantID, NewUserID, ... mint fresh random identifiers.
func NewTenantID() TenantID         { return TenantID(uuid.New()) }
func NewUserID() UserID             { return UserID(uuid.New()) }
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }
func NewSessionID() SessionID       { return SessionID(uuid.New()) }
func NewChallengeID() ChallengeID   { return ChallengeID(uuid.New()) }
func NewPersonID() PersonID         { return PersonID(uuid.New()) }
func NewIdentityID() IdentityID     { return IdentityID(uuid.New()) }
func NewContextID() ContextID       { return ContextID(uuid.New()) }
func NewAttributeID() AttributeID   { return AttributeID(uuid.New()) }
func NewRiskEventID() RiskEventID   { return RiskEventID(uuid.New()) }
func NewAuditEventID() AuditEventID { return AuditEventID(uuid.New()) }

// parseUUID rejects empty, malformed, and nil UUID strings, rejecting
// attack vectors (SQL injection payloads, path traversal, null bytes,
// oversized input) at the trust boundary rather than at the store layer.
func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id required")
	}
	if len(s) > 128 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id too long")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed id")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "nil id not allowed")
	}
	return parsed, nil
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	return TenantID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parseUUID(s)
	return CredentialID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s)
	return ChallengeID(u), err
}

func ParsePersonID(s string) (PersonID, error) {
	u, err := parseUUID(s)
	return PersonID(u), err
}

func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s)
	return IdentityID(u), err
}

func ParseContextID(s string) (ContextID, error) {
	u, err := parseUUID(s)
	return ContextID(u), err
}

func ParseAttributeID(s string) (AttributeID, error) {
	u, err := parseUUID(s)
	return AttributeID(u), err
}

func ParseRiskEventID(s string) (RiskEventID, error) {
	u, err := parseUUID(s)
	return RiskEventID(u), err
}

func ParseAuditEventID(s string) (AuditEventID, error) {
	u, err := parseUUID(s)
	return AuditEventID(u), err
}
