package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
	txcontext "aegis/pkg/tx"

	"github.com/google/uuid"
)

// PostgresStore persists the audit chain directly to audit_events, one
// row per event, with the tenant's running chain head advanced in the
// same transaction as the insert. Unlike the teacher's outbox-backed
// store, the chain's integrity invariant — event+chain-hash written
// atomically, never dropped — rules out the async "Kafka is the
// source of truth" path for the write itself; Kafka fan-out happens
// after commit, from Service, for SIEM/ops consumers that can
// tolerate at-least-once delivery.
type PostgresStore struct {
	db  *sql.DB
	run *txcontext.Runner
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, run: txcontext.NewRunner(db)}
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

// Append locks the tenant's chain-head row, computes the next event and
// chain hash, and inserts both in a single transaction, per spec.md
// §4.5 step 5 ("partial writes are impossible").
func (s *PostgresStore) Append(ctx context.Context, e Event) (Event, error) {
	var result Event
	err := s.run.RunInTx(ctx, func(ctx context.Context) error {
		ex := s.execer(ctx)

		var prevSeq int64
		var prevHash string
		row := ex.QueryRowContext(ctx, `
			SELECT sequence, chain_hash FROM audit_chain_head
			WHERE tenant_id = $1
			FOR UPDATE`, uuid.UUID(e.TenantID))
		switch err := row.Scan(&prevSeq, &prevHash); {
		case err == sql.ErrNoRows:
			prevSeq, prevHash = 0, genesisChainHash
			if _, err := ex.ExecContext(ctx, `
				INSERT INTO audit_chain_head (tenant_id, sequence, chain_hash)
				VALUES ($1, 0, $2)`, uuid.UUID(e.TenantID), genesisChainHash); err != nil {
				return fmt.Errorf("seed chain head: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lock chain head: %w", err)
		}

		if e.ID.IsNil() {
			e.ID = id.NewAuditEventID()
		}
		if e.Category == "" {
			e.Category = e.EventType.Category()
		}
		if e.RetentionUntil.IsZero() {
			e.RetentionUntil = e.Timestamp.Add(RetentionFor(e.EventType))
		}
		e.EventHash = eventHash(e)
		e.ChainHash = chainHash(prevHash, e.EventHash)
		e.Sequence = prevSeq + 1

		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		beforeJSON, err := json.Marshal(e.BeforeState)
		if err != nil {
			return fmt.Errorf("marshal before_state: %w", err)
		}
		afterJSON, err := json.Marshal(e.AfterState)
		if err != nil {
			return fmt.Errorf("marshal after_state: %w", err)
		}

		if _, err := ex.ExecContext(ctx, `
			INSERT INTO audit_events (
				id, tenant_id, user_id, event_type, category, action,
				resource_type, resource_id, timestamp, metadata, sensitive,
				before_state, after_state, request_id, actor_id,
				sequence, event_hash, chain_hash, retention_until
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			uuid.UUID(e.ID), uuid.UUID(e.TenantID), uuid.UUID(e.UserID),
			string(e.EventType), string(e.Category), e.Action,
			e.ResourceType, e.ResourceID, e.Timestamp, metadataJSON, e.Sensitive,
			beforeJSON, afterJSON, e.RequestID, e.ActorID,
			e.Sequence, e.EventHash, e.ChainHash, e.RetentionUntil,
		); err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}

		if _, err := ex.ExecContext(ctx, `
			UPDATE audit_chain_head SET sequence = $2, chain_hash = $3
			WHERE tenant_id = $1`, uuid.UUID(e.TenantID), e.Sequence, e.ChainHash); err != nil {
			return fmt.Errorf("advance chain head: %w", err)
		}

		result = e
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return result, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID id.TenantID, eventID id.AuditEventID) (Event, error) {
	row := s.execer(ctx).QueryRowContext(ctx, baseSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(eventID))
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, sentinel.ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ListBySequenceRange(ctx context.Context, tenantID id.TenantID, r SequenceRange) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, baseSelect+`
		WHERE tenant_id = $1 AND sequence BETWEEN $2 AND $3
		ORDER BY sequence ASC`, uuid.UUID(tenantID), r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query by sequence range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListByUserTimeRange(ctx context.Context, tenantID id.TenantID, userID id.UserID, r TimeRange) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, baseSelect+`
		WHERE tenant_id = $1 AND user_id = $2 AND timestamp BETWEEN $3 AND $4
		ORDER BY sequence ASC`, uuid.UUID(tenantID), uuid.UUID(userID), r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query by user time range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByFramework filters on a compliance_framework tag stored in
// metadata, since frameworks (PCI DSS, GDPR, HIPAA, PSD2) are cross-
// cutting tags rather than a first-class column.
func (s *PostgresStore) ListByFramework(ctx context.Context, tenantID id.TenantID, framework string) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, baseSelect+`
		WHERE tenant_id = $1 AND metadata->>'compliance_framework' = $2
		ORDER BY sequence ASC`, uuid.UUID(tenantID), framework)
	if err != nil {
		return nil, fmt.Errorf("query by framework: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ChainHead(ctx context.Context, tenantID id.TenantID) (int64, string, error) {
	var seq int64
	var chainHash string
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT sequence, chain_hash FROM audit_chain_head WHERE tenant_id = $1`,
		uuid.UUID(tenantID)).Scan(&seq, &chainHash)
	if err == sql.ErrNoRows {
		return 0, genesisChainHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read chain head: %w", err)
	}
	return seq, chainHash, nil
}

func (s *PostgresStore) Walk(ctx context.Context, tenantID id.TenantID, fn func(Event) error) error {
	rows, err := s.execer(ctx).QueryContext(ctx, baseSelect+`
		WHERE tenant_id = $1 ORDER BY sequence ASC`, uuid.UUID(tenantID))
	if err != nil {
		return fmt.Errorf("walk chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

const baseSelect = `
	SELECT id, tenant_id, user_id, event_type, category, action,
		resource_type, resource_id, timestamp, metadata, sensitive,
		before_state, after_state, request_id, actor_id,
		sequence, event_hash, chain_hash, retention_until
	FROM audit_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	return scanInto(row)
}

func scanEventRows(rows *sql.Rows) (Event, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (Event, error) {
	var (
		e                      Event
		eventID, tenantID, uID uuid.UUID
		metadataJSON           []byte
		beforeJSON             []byte
		afterJSON              []byte
	)
	if err := row.Scan(
		&eventID, &tenantID, &uID, &e.EventType, &e.Category, &e.Action,
		&e.ResourceType, &e.ResourceID, &e.Timestamp, &metadataJSON, &e.Sensitive,
		&beforeJSON, &afterJSON, &e.RequestID, &e.ActorID,
		&e.Sequence, &e.EventHash, &e.ChainHash, &e.RetentionUntil,
	); err != nil {
		return Event{}, err
	}
	e.ID = id.AuditEventID(eventID)
	e.TenantID = id.TenantID(tenantID)
	e.UserID = id.UserID(uID)
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
	}
	if len(beforeJSON) > 0 {
		_ = json.Unmarshal(beforeJSON, &e.BeforeState)
	}
	if len(afterJSON) > 0 {
		_ = json.Unmarshal(afterJSON, &e.AfterState)
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
