package audit

import (
	"context"
	"time"

	id "aegis/pkg/domain"
)

// SequenceRange bounds a ListBySequenceRange query; End is inclusive.
type SequenceRange struct {
	Start int64
	End   int64
}

// TimeRange bounds a ListByUserTimeRange query; both ends are inclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Store persists the per-tenant audit chain and serves the read paths
// spec.md §4.5 names: by id, by sequence range, by (user, time range),
// and by compliance framework.
type Store interface {
	// Append assigns Sequence, EventHash and ChainHash to e (chained off
	// the tenant's current head) and persists it atomically. The
	// returned Event carries the assigned fields.
	Append(ctx context.Context, e Event) (Event, error)

	GetByID(ctx context.Context, tenantID id.TenantID, eventID id.AuditEventID) (Event, error)
	ListBySequenceRange(ctx context.Context, tenantID id.TenantID, r SequenceRange) ([]Event, error)
	ListByUserTimeRange(ctx context.Context, tenantID id.TenantID, userID id.UserID, r TimeRange) ([]Event, error)
	ListByFramework(ctx context.Context, tenantID id.TenantID, framework string) ([]Event, error)

	// ChainHead returns the sequence and chain-hash of the most recent
	// event for tenantID, or (0, genesisChainHash, nil) if the tenant
	// has no events yet.
	ChainHead(ctx context.Context, tenantID id.TenantID) (sequence int64, chainHash string, err error)

	// Walk streams every event for tenantID in ascending sequence order,
	// for chain verification and compliance export.
	Walk(ctx context.Context, tenantID id.TenantID, fn func(Event) error) error
}
