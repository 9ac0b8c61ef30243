package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
	txcontext "aegis/pkg/tx"

	"github.com/google/uuid"
	// pgx's stdlib adapter registers the "pgx" database/sql driver. The
	// risk store exercises pgx/v5 directly (rather than lib/pq, which
	// internal/audit and internal/credential already use) the way the
	// teacher wires two distinct Postgres drivers side by side for
	// different subsystems.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the risk Store backed by Postgres via the pgx stdlib
// driver, scoped per tenant per §3's tenant-partition invariant.
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

type profileRow struct {
	TrustedDevices   map[string]bool `json:"trusted_devices"`
	TrustedLocations map[string]bool `json:"trusted_locations"`
	SuspiciousIPs    map[string]bool `json:"suspicious_ips"`
	Behavior         BehaviorPatterns `json:"behavior"`
	LastFactors      Factors         `json:"last_factors"`
	MLFeatureVector  []float64       `json:"ml_feature_vector"`
	Threat           ThreatIndicators `json:"threat"`
	RecentScores     []float64       `json:"recent_scores"`
}

func (s *PostgresStore) GetProfile(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*Profile, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT baseline, current, peak, level, trend, confidence, requires_monitoring,
			flagged, flag_reason, flagged_at, assessment_count, high_risk_event_count,
			security_violation_count, last_high_risk_at, detail, created_at, updated_at, version
		FROM risk_profiles WHERE tenant_id = $1 AND user_id = $2`,
		uuid.UUID(tenantID), uuid.UUID(userID))

	var p Profile
	p.TenantID = tenantID
	p.UserID = userID
	var detail []byte
	var flagReason sql.NullString
	var flaggedAt, lastHighRiskAt sql.NullTime

	err := row.Scan(&p.Baseline, &p.Current, &p.Peak, &p.Level, &p.Trend, &p.Confidence,
		&p.RequiresMonitoring, &p.Flagged, &flagReason, &flaggedAt, &p.AssessmentCount,
		&p.HighRiskEventCount, &p.SecurityViolationCount, &lastHighRiskAt, &detail,
		&p.CreatedAt, &p.UpdatedAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk profile: %w", err)
	}
	p.FlagReason = flagReason.String
	if flaggedAt.Valid {
		t := flaggedAt.Time
		p.FlaggedAt = &t
	}
	if lastHighRiskAt.Valid {
		t := lastHighRiskAt.Time
		p.LastHighRiskAt = &t
	}
	var d profileRow
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &d); err != nil {
			return nil, fmt.Errorf("unmarshal risk profile detail: %w", err)
		}
	}
	p.TrustedDevices = d.TrustedDevices
	p.TrustedLocations = d.TrustedLocations
	p.SuspiciousIPs = d.SuspiciousIPs
	p.Behavior = d.Behavior
	p.LastFactors = d.LastFactors
	p.MLFeatureVector = d.MLFeatureVector
	p.Threat = d.Threat
	p.recentScores = d.RecentScores
	return &p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *Profile) error {
	detail, err := json.Marshal(profileRow{
		TrustedDevices:   p.TrustedDevices,
		TrustedLocations: p.TrustedLocations,
		SuspiciousIPs:    p.SuspiciousIPs,
		Behavior:         p.Behavior,
		LastFactors:      p.LastFactors,
		MLFeatureVector:  p.MLFeatureVector,
		Threat:           p.Threat,
		RecentScores:     p.recentScores,
	})
	if err != nil {
		return fmt.Errorf("marshal risk profile detail: %w", err)
	}

	newVersion := p.Version + 1
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO risk_profiles (
			tenant_id, user_id, baseline, current, peak, level, trend, confidence,
			requires_monitoring, flagged, flag_reason, flagged_at, assessment_count,
			high_risk_event_count, security_violation_count, last_high_risk_at, detail,
			created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,1)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			baseline = $3, current = $4, peak = $5, level = $6, trend = $7, confidence = $8,
			requires_monitoring = $9, flagged = $10, flag_reason = $11, flagged_at = $12,
			assessment_count = $13, high_risk_event_count = $14, security_violation_count = $15,
			last_high_risk_at = $16, detail = $17, updated_at = $19, version = risk_profiles.version + 1
		WHERE risk_profiles.version = $20`,
		uuid.UUID(p.TenantID), uuid.UUID(p.UserID), p.Baseline, p.Current, p.Peak,
		string(p.Level), string(p.Trend), p.Confidence, p.RequiresMonitoring, p.Flagged,
		nullableString(p.FlagReason), p.FlaggedAt, p.AssessmentCount, p.HighRiskEventCount,
		p.SecurityViolationCount, p.LastHighRiskAt, detail, p.CreatedAt, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert risk profile: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 && p.Version != 0 {
		return sentinel.ErrConflict
	}
	p.Version = newVersion
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	factors, err := json.Marshal(e.Factors)
	if err != nil {
		return fmt.Errorf("marshal risk event factors: %w", err)
	}
	mlAnalysis, err := json.Marshal(e.MLAnalysis)
	if err != nil {
		return fmt.Errorf("marshal risk event ml analysis: %w", err)
	}
	traces, err := json.Marshal(e.Traces)
	if err != nil {
		return fmt.Errorf("marshal risk event traces: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO risk_events (
			id, tenant_id, user_id, event_type, severity, status, score, confidence,
			factors, ip, user_agent, device_fingerprint, session_id, credential_id,
			country, region, city, ml_analysis, traces, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		uuid.UUID(e.ID), uuid.UUID(e.TenantID), uuid.UUID(e.UserID), e.EventType,
		string(e.Severity), string(e.Status), e.Score, e.Confidence, factors,
		e.Request.IP, e.Request.UserAgent, e.Request.DeviceFingerprint,
		uuid.UUID(e.Request.SessionID), uuid.UUID(e.Request.CredentialID),
		e.Request.Country, e.Request.Region, e.Request.City, mlAnalysis, traces,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

const riskEventSelect = `
	SELECT id, tenant_id, user_id, event_type, severity, status, score, confidence,
		factors, ip, user_agent, device_fingerprint, session_id, credential_id,
		country, region, city, ml_analysis, traces, created_at, updated_at
	FROM risk_events`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var factors, mlAnalysis, traces []byte
	var sessionID, credentialID uuid.UUID
	var tenantID, userID, eventID uuid.UUID

	err := row.Scan(&eventID, &tenantID, &userID, &e.EventType, &e.Severity, &e.Status,
		&e.Score, &e.Confidence, &factors, &e.Request.IP, &e.Request.UserAgent,
		&e.Request.DeviceFingerprint, &sessionID, &credentialID, &e.Request.Country,
		&e.Request.Region, &e.Request.City, &mlAnalysis, &traces, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = id.RiskEventID(eventID)
	e.TenantID = id.TenantID(tenantID)
	e.UserID = id.UserID(userID)
	e.Request.SessionID = id.SessionID(sessionID)
	e.Request.CredentialID = id.CredentialID(credentialID)
	if len(factors) > 0 {
		_ = json.Unmarshal(factors, &e.Factors)
	}
	if len(mlAnalysis) > 0 {
		_ = json.Unmarshal(mlAnalysis, &e.MLAnalysis)
	}
	if len(traces) > 0 {
		_ = json.Unmarshal(traces, &e.Traces)
	}
	return &e, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, tenantID id.TenantID, eventID id.RiskEventID) (*Event, error) {
	row := s.execer(ctx).QueryRowContext(ctx, riskEventSelect+` WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(eventID))
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := riskEventSelect + ` WHERE tenant_id = $1`
	args := []any{uuid.UUID(filter.TenantID)}
	if !filter.UserID.IsNil() {
		args = append(args, uuid.UUID(filter.UserID))
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list risk events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateEventStatus(ctx context.Context, tenantID id.TenantID, eventID id.RiskEventID, status EventStatus) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE risk_events SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		string(status), time.Now(), uuid.UUID(tenantID), uuid.UUID(eventID))
	if err != nil {
		return fmt.Errorf("update risk event status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
