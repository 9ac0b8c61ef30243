package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
	txcontext "aegis/pkg/tx"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the session Store backed by Postgres, tenant-scoped
// per spec.md §3's isolation invariant.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const sessionSelect = `
	SELECT id, tenant_id, user_id, credential_id, token_hash, encrypted_refresh_token,
		status, type, expires_at, last_activity_at, ip, user_agent, device_fingerprint,
		country, region, city, risk_score, is_high_risk, requires_mfa, activity_count,
		created_at, terminated_at, termination_reason, version
	FROM sessions`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var sessionUUID, tenantUUID, userUUID, credentialUUID uuid.UUID
	var tokenHash []byte
	var terminatedAt sql.NullTime
	var terminationReason sql.NullString

	err := row.Scan(&sessionUUID, &tenantUUID, &userUUID, &credentialUUID, &tokenHash,
		&s.EncryptedRefreshToken, &s.Status, &s.Type, &s.ExpiresAt, &s.LastActivityAt,
		&s.IP, &s.UserAgent, &s.DeviceFingerprint, &s.Geo.Country, &s.Geo.Region, &s.Geo.City,
		&s.RiskScore, &s.Flags.IsHighRisk, &s.Flags.RequiresMFA, &s.ActivityCount,
		&s.CreatedAt, &terminatedAt, &terminationReason, &s.Version)
	if err != nil {
		return nil, err
	}
	s.ID = id.SessionID(sessionUUID)
	s.TenantID = id.TenantID(tenantUUID)
	s.UserID = id.UserID(userUUID)
	s.CredentialID = id.CredentialID(credentialUUID)
	copy(s.TokenHash[:], tokenHash)
	if terminatedAt.Valid {
		t := terminatedAt.Time
		s.TerminatedAt = &t
	}
	s.TerminationReason = terminationReason.String
	return &s, nil
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO sessions (
			id, tenant_id, user_id, credential_id, token_hash, encrypted_refresh_token,
			status, type, expires_at, last_activity_at, ip, user_agent, device_fingerprint,
			country, region, city, risk_score, is_high_risk, requires_mfa, activity_count,
			created_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,1)`,
		uuid.UUID(sess.ID), uuid.UUID(sess.TenantID), uuid.UUID(sess.UserID), uuid.UUID(sess.CredentialID),
		sess.TokenHash[:], sess.EncryptedRefreshToken, string(sess.Status), string(sess.Type),
		sess.ExpiresAt, sess.LastActivityAt, sess.IP, sess.UserAgent, sess.DeviceFingerprint,
		sess.Geo.Country, sess.Geo.Region, sess.Geo.City, sess.RiskScore, sess.Flags.IsHighRisk,
		sess.Flags.RequiresMFA, sess.ActivityCount, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*Session, error) {
	row := s.execer(ctx).QueryRowContext(ctx, sessionSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(sessionID))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetByTokenHash(ctx context.Context, tenantID id.TenantID, hash [32]byte) (*Session, error) {
	row := s.execer(ctx).QueryRowContext(ctx, sessionSelect+` WHERE tenant_id = $1 AND token_hash = $2`,
		uuid.UUID(tenantID), hash[:])
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session by hash: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*Session, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, sessionSelect+
		` WHERE tenant_id = $1 AND user_id = $2 AND status = $3 ORDER BY last_activity_at ASC`,
		uuid.UUID(tenantID), uuid.UUID(userID), string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active sessions by user: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListActiveByCredential(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]*Session, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, sessionSelect+
		` WHERE tenant_id = $1 AND credential_id = $2 AND status = $3`,
		uuid.UUID(tenantID), uuid.UUID(credentialID), string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active sessions by credential: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE sessions SET token_hash = $1, encrypted_refresh_token = $2, status = $3,
			expires_at = $4, last_activity_at = $5, risk_score = $6, is_high_risk = $7,
			requires_mfa = $8, activity_count = $9, terminated_at = $10, termination_reason = $11,
			version = version + 1
		WHERE tenant_id = $12 AND id = $13 AND version = $14`,
		sess.TokenHash[:], sess.EncryptedRefreshToken, string(sess.Status), sess.ExpiresAt,
		sess.LastActivityAt, sess.RiskScore, sess.Flags.IsHighRisk, sess.Flags.RequiresMFA,
		sess.ActivityCount, sess.TerminatedAt, nullableString(sess.TerminationReason),
		uuid.UUID(sess.TenantID), uuid.UUID(sess.ID), sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sentinel.ErrConflict
	}
	sess.Version++
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
