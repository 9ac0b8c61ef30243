package identity

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

// PostgresStore is the identity Store backed by Postgres, tenant-scoped
// per spec.md §4.6's uniqueness and isolation invariants.
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

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

func (s *PostgresStore) CreatePerson(ctx context.Context, p *Person) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identity_persons (id, tenant_id, status, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,1)`,
		uuid.UUID(p.ID), uuid.UUID(p.TenantID), string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, tenantID id.TenantID, personID id.PersonID) (*Person, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, status, created_at, updated_at, version
		FROM identity_persons WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(personID))

	var p Person
	var personUUID, tenantUUID uuid.UUID
	err := row.Scan(&personUUID, &tenantUUID, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	p.ID = id.PersonID(personUUID)
	p.TenantID = id.TenantID(tenantUUID)
	return &p, nil
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, i *Identity) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identities (id, tenant_id, person_id, primary_key_type, primary_key_value, status, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)`,
		uuid.UUID(i.ID), uuid.UUID(i.TenantID), uuid.UUID(i.PersonID), string(i.PrimaryKeyType),
		i.PrimaryKeyValue, string(i.Status), i.CreatedAt, i.UpdatedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

const identitySelect = `
	SELECT id, tenant_id, person_id, primary_key_type, primary_key_value, status, created_at, updated_at, version
	FROM identities`

func scanIdentity(row interface{ Scan(...any) error }) (*Identity, error) {
	var i Identity
	var idUUID, tenantUUID, personUUID uuid.UUID
	err := row.Scan(&idUUID, &tenantUUID, &personUUID, &i.PrimaryKeyType, &i.PrimaryKeyValue, &i.Status, &i.CreatedAt, &i.UpdatedAt, &i.Version)
	if err != nil {
		return nil, err
	}
	i.ID = id.IdentityID(idUUID)
	i.TenantID = id.TenantID(tenantUUID)
	i.PersonID = id.PersonID(personUUID)
	return &i, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) (*Identity, error) {
	row := s.execer(ctx).QueryRowContext(ctx, identitySelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(identityID))
	i, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, nil
}

func (s *PostgresStore) FindIdentityByPrimaryKey(ctx context.Context, tenantID id.TenantID, keyType PrimaryKeyType, keyValue string) (*Identity, error) {
	row := s.execer(ctx).QueryRowContext(ctx, identitySelect+` WHERE tenant_id = $1 AND primary_key_type = $2 AND primary_key_value = $3`,
		uuid.UUID(tenantID), string(keyType), keyValue)
	i, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity by primary key: %w", err)
	}
	return i, nil
}

func (s *PostgresStore) ListIdentitiesByPerson(ctx context.Context, tenantID id.TenantID, personID id.PersonID) ([]*Identity, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, identitySelect+` WHERE tenant_id = $1 AND person_id = $2`,
		uuid.UUID(tenantID), uuid.UUID(personID))
	if err != nil {
		return nil, fmt.Errorf("list identities by person: %w", err)
	}
	defer rows.Close()

	var out []*Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateContext(ctx context.Context, c *Context) error {
	history, err := json.Marshal(c.TrustHistory)
	if err != nil {
		return fmt.Errorf("marshal trust history: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identity_contexts (id, tenant_id, identity_id, context_type, verification_level, trust_score, trust_history, flagged_degraded, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)`,
		uuid.UUID(c.ID), uuid.UUID(c.TenantID), uuid.UUID(c.IdentityID), string(c.ContextType),
		int(c.VerificationLevel), c.TrustScore, history, c.FlaggedDegraded, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert context: %w", err)
	}
	return nil
}

const contextSelect = `
	SELECT id, tenant_id, identity_id, context_type, verification_level, trust_score, trust_history, flagged_degraded, created_at, updated_at, version
	FROM identity_contexts`

func scanContext(row interface{ Scan(...any) error }) (*Context, error) {
	var c Context
	var idUUID, tenantUUID, identityUUID uuid.UUID
	var level int
	var history []byte
	err := row.Scan(&idUUID, &tenantUUID, &identityUUID, &c.ContextType, &level, &c.TrustScore, &history, &c.FlaggedDegraded, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return nil, err
	}
	c.ID = id.ContextID(idUUID)
	c.TenantID = id.TenantID(tenantUUID)
	c.IdentityID = id.IdentityID(identityUUID)
	c.VerificationLevel = VerificationLevel(level)
	if len(history) > 0 {
		_ = json.Unmarshal(history, &c.TrustHistory)
	}
	return &c, nil
}

func (s *PostgresStore) GetContext(ctx context.Context, tenantID id.TenantID, contextID id.ContextID) (*Context, error) {
	row := s.execer(ctx).QueryRowContext(ctx, contextSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(contextID))
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SaveContext(ctx context.Context, c *Context) error {
	history, err := json.Marshal(c.TrustHistory)
	if err != nil {
		return fmt.Errorf("marshal trust history: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE identity_contexts SET verification_level = $1, trust_score = $2, trust_history = $3,
			flagged_degraded = $4, updated_at = $5, version = version + 1
		WHERE tenant_id = $6 AND id = $7 AND version = $8`,
		int(c.VerificationLevel), c.TrustScore, history, c.FlaggedDegraded, time.Now(),
		uuid.UUID(c.TenantID), uuid.UUID(c.ID), c.Version)
	if err != nil {
		return fmt.Errorf("update context: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sentinel.ErrConflict
	}
	c.Version++
	return nil
}

func (s *PostgresStore) ListContextsByIdentity(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) ([]*Context, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, contextSelect+` WHERE tenant_id = $1 AND identity_id = $2`,
		uuid.UUID(tenantID), uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("list contexts by identity: %w", err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAttribute(ctx context.Context, a *Attribute) error {
	evidence, err := json.Marshal(a.EvidenceMetadata)
	if err != nil {
		return fmt.Errorf("marshal evidence metadata: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identity_attributes (id, tenant_id, context_id, key, value, sensitivity,
			verification_status, verification_source, verification_notes, evidence_metadata,
			verified_at, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)`,
		uuid.UUID(a.ID), uuid.UUID(a.TenantID), uuid.UUID(a.ContextID), a.Key, a.Value,
		int(a.Sensitivity), string(a.VerificationStatus), a.VerificationSource, a.VerificationNotes,
		evidence, a.VerifiedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert attribute: %w", err)
	}
	return nil
}

const attributeSelect = `
	SELECT id, tenant_id, context_id, key, value, sensitivity, verification_status,
		verification_source, verification_notes, evidence_metadata, verified_at, created_at, updated_at, version
	FROM identity_attributes`

func scanAttribute(row interface{ Scan(...any) error }) (*Attribute, error) {
	var a Attribute
	var idUUID, tenantUUID, contextUUID uuid.UUID
	var sensitivity int
	var evidence []byte
	err := row.Scan(&idUUID, &tenantUUID, &contextUUID, &a.Key, &a.Value, &sensitivity,
		&a.VerificationStatus, &a.VerificationSource, &a.VerificationNotes, &evidence,
		&a.VerifiedAt, &a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		return nil, err
	}
	a.ID = id.AttributeID(idUUID)
	a.TenantID = id.TenantID(tenantUUID)
	a.ContextID = id.ContextID(contextUUID)
	a.Sensitivity = Sensitivity(sensitivity)
	if len(evidence) > 0 {
		_ = json.Unmarshal(evidence, &a.EvidenceMetadata)
	}
	return &a, nil
}

func (s *PostgresStore) GetAttribute(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID) (*Attribute, error) {
	row := s.execer(ctx).QueryRowContext(ctx, attributeSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(attributeID))
	a, err := scanAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attribute: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SaveAttribute(ctx context.Context, a *Attribute) error {
	evidence, err := json.Marshal(a.EvidenceMetadata)
	if err != nil {
		return fmt.Errorf("marshal evidence metadata: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE identity_attributes SET value = $1, sensitivity = $2, verification_status = $3,
			verification_source = $4, verification_notes = $5, evidence_metadata = $6,
			verified_at = $7, updated_at = $8, version = version + 1
		WHERE tenant_id = $9 AND id = $10 AND version = $11`,
		a.Value, int(a.Sensitivity), string(a.VerificationStatus), a.VerificationSource,
		a.VerificationNotes, evidence, a.VerifiedAt, time.Now(), uuid.UUID(a.TenantID), uuid.UUID(a.ID), a.Version)
	if err != nil {
		return fmt.Errorf("update attribute: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sentinel.ErrConflict
	}
	a.Version++
	return nil
}

func (s *PostgresStore) ListAttributesByContext(ctx context.Context, tenantID id.TenantID, contextID id.ContextID) ([]*Attribute, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, attributeSelect+` WHERE tenant_id = $1 AND context_id = $2`,
		uuid.UUID(tenantID), uuid.UUID(contextID))
	if err != nil {
		return nil, fmt.Errorf("list attributes by context: %w", err)
	}
	defer rows.Close()

	var out []*Attribute
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SearchAttributes(ctx context.Context, filter AttributeFilter) ([]*Attribute, error) {
	query := attributeSelect + ` WHERE tenant_id = $1`
	args := []any{uuid.UUID(filter.TenantID)}
	if !filter.ContextID.IsNil() {
		args = append(args, uuid.UUID(filter.ContextID))
		query += fmt.Sprintf(" AND context_id = $%d", len(args))
	}
	if filter.Key != "" {
		args = append(args, filter.Key)
		query += fmt.Sprintf(" AND key = $%d", len(args))
	}
	if filter.ValueQuery != "" {
		args = append(args, "%"+filter.ValueQuery+"%")
		query += fmt.Sprintf(" AND value ILIKE $%d", len(args))
	}
	if filter.Sensitivity != nil {
		args = append(args, int(*filter.Sensitivity))
		query += fmt.Sprintf(" AND sensitivity = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search attributes: %w", err)
	}
	defer rows.Close()

	var out []*Attribute
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
