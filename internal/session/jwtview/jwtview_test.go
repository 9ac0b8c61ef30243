package jwtview

import (
	"testing"
	"time"

	"aegis/internal/session"
	id "aegis/pkg/domain"

	"github.com/stretchr/testify/require"
)

func TestIssueAndParse_RoundTrips(t *testing.T) {
	signer := NewSigner([]byte("test-signing-key-0123456789"))
	sess := &session.Session{
		ID:        id.NewSessionID(),
		TenantID:  id.NewTenantID(),
		UserID:    id.NewUserID(),
		ExpiresAt: time.Now().Add(time.Hour),
		Flags:     session.SecurityFlags{IsHighRisk: false, RequiresMFA: true},
	}

	token, err := signer.Issue(sess)
	require.NoError(t, err)

	claims, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, sess.ID.String(), claims.SessionID)
	require.Equal(t, sess.TenantID.String(), claims.TenantID)
	require.True(t, claims.RequiresMFA)

	parsedID, err := claims.SessionIDTyped()
	require.NoError(t, err)
	require.Equal(t, sess.ID, parsedID)
}

func TestParse_RejectsExpiredToken(t *testing.T) {
	signer := NewSigner([]byte("test-signing-key-0123456789"))
	sess := &session.Session{
		ID:        id.NewSessionID(),
		TenantID:  id.NewTenantID(),
		UserID:    id.NewUserID(),
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	token, err := signer.Issue(sess)
	require.NoError(t, err)

	_, err = signer.Parse(token)
	require.Error(t, err)
}
