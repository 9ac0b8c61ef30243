package tenantuser

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
	txcontext "aegis/pkg/tx"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the tenantuser Store backed by Postgres, tenant-scoped
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
}

func (s *PostgresStore) execer(ctx context.Context) execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

const userSelect = `
	SELECT id, tenant_id, email, username, display_name, is_active, is_verified, locked,
		lock_until, failed_attempt_count, lockout_count, locale, timezone, preferences,
		metadata, soft_deleted_at, created_at, updated_at, version
	FROM tenant_users`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var userUUID, tenantUUID uuid.UUID
	var lockUntil, softDeletedAt sql.NullTime
	var preferences, metadata []byte

	err := row.Scan(&userUUID, &tenantUUID, &u.Email, &u.Username, &u.DisplayName, &u.IsActive,
		&u.IsVerified, &u.Locked, &lockUntil, &u.FailedAttemptCount, &u.LockoutCount, &u.Locale,
		&u.Timezone, &preferences, &metadata, &softDeletedAt, &u.CreatedAt, &u.UpdatedAt, &u.Version)
	if err != nil {
		return nil, err
	}
	u.ID = id.UserID(userUUID)
	u.TenantID = id.TenantID(tenantUUID)
	if lockUntil.Valid {
		t := lockUntil.Time
		u.LockUntil = &t
	}
	if softDeletedAt.Valid {
		t := softDeletedAt.Time
		u.SoftDeletedAt = &t
	}
	if len(preferences) > 0 {
		_ = json.Unmarshal(preferences, &u.Preferences)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &u.Metadata)
	}
	return &u, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	preferences, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO tenant_users (
			id, tenant_id, email, username, display_name, is_active, is_verified, locked,
			lock_until, failed_attempt_count, lockout_count, locale, timezone, preferences,
			metadata, soft_deleted_at, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1)`,
		uuid.UUID(u.ID), uuid.UUID(u.TenantID), u.Email, u.Username, u.DisplayName, u.IsActive,
		u.IsVerified, u.Locked, u.LockUntil, u.FailedAttemptCount, u.LockoutCount, u.Locale,
		u.Timezone, preferences, metadata, u.SoftDeletedAt, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, userSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(userID))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, tenantID id.TenantID, normalizedEmail string) (*User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, userSelect+` WHERE tenant_id = $1 AND email = $2`,
		uuid.UUID(tenantID), normalizedEmail)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetByUsername(ctx context.Context, tenantID id.TenantID, normalizedUsername string) (*User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, userSelect+` WHERE tenant_id = $1 AND username = $2`,
		uuid.UUID(tenantID), normalizedUsername)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Save(ctx context.Context, u *User) error {
	preferences, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE tenant_users SET email = $1, username = $2, display_name = $3, is_active = $4,
			is_verified = $5, locked = $6, lock_until = $7, failed_attempt_count = $8,
			lockout_count = $9, locale = $10, timezone = $11, preferences = $12, metadata = $13,
			soft_deleted_at = $14, updated_at = $15, version = version + 1
		WHERE tenant_id = $16 AND id = $17 AND version = $18`,
		u.Email, u.Username, u.DisplayName, u.IsActive, u.IsVerified, u.Locked, u.LockUntil,
		u.FailedAttemptCount, u.LockoutCount, u.Locale, u.Timezone, preferences, metadata,
		u.SoftDeletedAt, time.Now(), uuid.UUID(u.TenantID), uuid.UUID(u.ID), u.Version,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sentinel.ErrConflict
	}
	u.Version++
	return nil
}
