package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/cose"
	"aegis/pkg/sentinel"
	txcontext "aegis/pkg/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore is the credential Store backed by Postgres, scoped per
// tenant per §3's tenant-partition invariant.
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

func (s *PostgresStore) Create(ctx context.Context, c *Credential) error {
	pubKey := cose.Encode(c.PublicKey)
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO credentials (
			id, tenant_id, user_id, credential_id, credential_id_hash, public_key,
			sign_count, device_type, credential_type, attestation_type, status,
			backup_eligible, backup_state, nickname, aaguid, usage_count, risk_score,
			last_used_at, expires_at, attestation_blob, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		uuid.UUID(c.ID), uuid.UUID(c.TenantID), uuid.UUID(c.UserID), c.CredentialID, c.CredentialIDHash[:], pubKey,
		c.SignCount, string(c.DeviceType), c.CredentialType, string(c.AttestationType), string(c.Status),
		c.BackupEligible, c.BackupState, c.Nickname, c.AAGUID[:], c.UsageCount, c.RiskScore,
		c.LastUsedAt, c.ExpiresAt, c.AttestationBlob, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

const baseSelect = `
	SELECT id, tenant_id, user_id, credential_id, credential_id_hash, public_key,
		sign_count, device_type, credential_type, attestation_type, status,
		backup_eligible, backup_state, nickname, aaguid, usage_count, risk_score,
		last_used_at, expires_at, attestation_blob, created_at, updated_at, revoked_at
	FROM credentials`

func (s *PostgresStore) GetByID(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) (*Credential, error) {
	row := s.execer(ctx).QueryRowContext(ctx, baseSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(credID))
	return scanOne(row)
}

func (s *PostgresStore) GetByHash(ctx context.Context, hash [32]byte) (*Credential, error) {
	row := s.execer(ctx).QueryRowContext(ctx, baseSelect+` WHERE credential_id_hash = $1`, hash[:])
	return scanOne(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*Credential, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, baseSelect+` WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at ASC`,
		uuid.UUID(tenantID), uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list credentials by user: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateUsage re-implements the counter-checking protocol with a
// row-level lock so two concurrent assertions against the same
// credential can't both observe a stale counter, grounded on the
// chain-head locking pattern internal/audit uses for the same reason.
func (s *PostgresStore) UpdateUsage(ctx context.Context, tenantID id.TenantID, credID id.CredentialID, newCount uint32, usedAt time.Time) error {
	run := txcontext.NewRunner(s.db)
	return run.RunInTx(ctx, func(ctx context.Context) error {
		ex := s.execer(ctx)

		var storedCount uint32
		err := ex.QueryRowContext(ctx, `
			SELECT sign_count FROM credentials
			WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			uuid.UUID(tenantID), uuid.UUID(credID)).Scan(&storedCount)
		if err == sql.ErrNoRows {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock credential: %w", err)
		}

		if newCount <= storedCount && storedCount != 0 {
			_, err := ex.ExecContext(ctx, `
				UPDATE credentials SET status = $3, updated_at = $4
				WHERE tenant_id = $1 AND id = $2`,
				uuid.UUID(tenantID), uuid.UUID(credID), string(StatusSuspicious), usedAt)
			if err != nil {
				return fmt.Errorf("mark suspicious: %w", err)
			}
			return sentinel.ErrCounterRollback
		}

		_, err = ex.ExecContext(ctx, `
			UPDATE credentials
			SET sign_count = $3, last_used_at = $4, usage_count = usage_count + 1, updated_at = $4
			WHERE tenant_id = $1 AND id = $2`,
			uuid.UUID(tenantID), uuid.UUID(credID), newCount, usedAt)
		if err != nil {
			return fmt.Errorf("advance counter: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) MarkSuspicious(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.setStatus(ctx, tenantID, credID, StatusSuspicious, false)
}

// MarkCompromised sets status compromised and stamps revoked_at. This
// store has no column for SecurityFlags, so Flags.HighRisk is not
// persisted and reads back false.
func (s *PostgresStore) MarkCompromised(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.setStatus(ctx, tenantID, credID, StatusCompromised, true)
}

func (s *PostgresStore) Revoke(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.setStatus(ctx, tenantID, credID, StatusRevoked, true)
}

func (s *PostgresStore) Expire(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.setStatus(ctx, tenantID, credID, StatusExpired, false)
}

func (s *PostgresStore) Quarantine(ctx context.Context, tenantID id.TenantID, credID id.CredentialID) error {
	return s.setStatus(ctx, tenantID, credID, StatusQuarantined, false)
}

func (s *PostgresStore) setStatus(ctx context.Context, tenantID id.TenantID, credID id.CredentialID, status Status, stampRevoked bool) error {
	now := time.Now()
	var revokedAt *time.Time
	if stampRevoked {
		revokedAt = &now
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE credentials SET status = $3, updated_at = $4, revoked_at = COALESCE($5, revoked_at)
		WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(credID), string(status), now, revokedAt)
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanOne(row *sql.Row) (*Credential, error) {
	c, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRows(rows *sql.Rows) (*Credential, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (*Credential, error) {
	var (
		c                     Credential
		credID, tenantID, uID uuid.UUID
		credentialIDHash      []byte
		publicKey             []byte
		aaguid                []byte
		deviceType, credType  string
		attestationType       string
		status                string
	)
	if err := row.Scan(
		&credID, &tenantID, &uID, &c.CredentialID, &credentialIDHash, &publicKey,
		&c.SignCount, &deviceType, &credType, &attestationType, &status,
		&c.BackupEligible, &c.BackupState, &c.Nickname, &aaguid, &c.UsageCount, &c.RiskScore,
		&c.LastUsedAt, &c.ExpiresAt, &c.AttestationBlob, &c.CreatedAt, &c.UpdatedAt, &c.RevokedAt,
	); err != nil {
		return nil, err
	}
	c.ID = id.CredentialID(credID)
	c.TenantID = id.TenantID(tenantID)
	c.UserID = id.UserID(uID)
	c.DeviceType = DeviceType(deviceType)
	c.CredentialType = credType
	c.AttestationType = AttestationType(attestationType)
	c.Status = Status(status)
	copy(c.CredentialIDHash[:], credentialIDHash)
	copy(c.AAGUID[:], aaguid)
	if key, err := cose.Decode(publicKey); err == nil {
		c.PublicKey = key
	}
	return &c, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), e.g. a credential_id_hash collision.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
