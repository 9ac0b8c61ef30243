// Package jwtview hands transport layers a signed, stateless read view
// of a session so a reverse proxy or edge service can check expiry and
// tenant/user scoping without a round trip to the session store. It is
// a view, never a second source of truth: internal/session.Service
// always re-validates the durable session before acting on anything
// sensitive — a forged or stale JWT only ever costs an extra rejected
// request, never a bypassed revocation.
package jwtview

import (
	"fmt"
	"time"

	"aegis/internal/session"
	id "aegis/pkg/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the subset of a Session a transport layer needs to
// make a fast routing/authz decision.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tid"`
	UserID      string `json:"uid"`
	SessionID   string `json:"sid"`
	IsHighRisk  bool   `json:"risk_high"`
	RequiresMFA bool   `json:"requires_mfa"`
}

// Signer mints and parses the view JWT with a single HMAC key. Key
// rotation is out of scope; callers needing it run two Signers and try
// the new key first, falling back to the old one.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Issue mints a view token for sess, valid until sess.ExpiresAt.
func (s *Signer) Issue(sess *session.Session) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   sess.UserID.String(),
		},
		TenantID:    sess.TenantID.String(),
		UserID:      sess.UserID.String(),
		SessionID:   sess.ID.String(),
		IsHighRisk:  sess.Flags.IsHighRisk,
		RequiresMFA: sess.Flags.RequiresMFA,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Parse validates the signature and expiry of raw and returns its claims.
// It does not consult the session store; callers that need a
// revocation-accurate answer must still call Service.Validate.
func (s *Signer) Parse(raw string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session view token")
	}
	return &claims, nil
}

// SessionIDTyped parses claims.SessionID back into its typed form.
func (c *Claims) SessionIDTyped() (id.SessionID, error) {
	return id.ParseSessionID(c.SessionID)
}
