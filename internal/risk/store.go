package risk

import (
	"context"

	id "aegis/pkg/domain"
)

// EventFilter narrows ListEvents to a tenant/user and optional status.
type EventFilter struct {
	TenantID id.TenantID
	UserID   id.UserID
	Status   EventStatus // zero value means "any"
	Limit    int
}

// Store persists risk profiles and the append-only risk-event stream.
// GetProfile returning sentinel.ErrNotFound is the normal "no prior
// assessment" case; Service.Assess creates the profile in that case
// rather than treating it as an error.
type Store interface {
	GetProfile(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*Profile, error)
	// SaveProfile performs an optimistic-concurrency upsert keyed on
	// (tenant, user), incrementing Version. A version mismatch on an
	// existing row returns sentinel.ErrConflict.
	SaveProfile(ctx context.Context, p *Profile) error

	AppendEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, tenantID id.TenantID, eventID id.RiskEventID) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	UpdateEventStatus(ctx context.Context, tenantID id.TenantID, eventID id.RiskEventID, status EventStatus) error
}
