package identity

import (
	"context"

	id "aegis/pkg/domain"
)

// AttributeFilter narrows SearchAttributes to a tenant and optional
// key/value/sensitivity predicates.
type AttributeFilter struct {
	TenantID    id.TenantID
	ContextID   id.ContextID // zero value means "any context"
	Key         string       // exact match; empty means "any key"
	ValueQuery  string       // substring match against Value
	Sensitivity *Sensitivity // nil means "any"
	Limit       int
}

// Store persists the identity graph: Person, Identity, Context, and
// Attribute, each scoped by tenant per spec.md §4.6's tenant-partition
// invariant.
type Store interface {
	CreatePerson(ctx context.Context, p *Person) error
	GetPerson(ctx context.Context, tenantID id.TenantID, personID id.PersonID) (*Person, error)

	CreateIdentity(ctx context.Context, i *Identity) error
	GetIdentity(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) (*Identity, error)
	// FindIdentityByPrimaryKey looks an identity up by its unique
	// (tenant, primary-key-type, primary-key-value) key; returns
	// sentinel.ErrNotFound when absent. Uniqueness itself is enforced by
	// CreateIdentity, which returns sentinel.ErrConflict on a duplicate.
	FindIdentityByPrimaryKey(ctx context.Context, tenantID id.TenantID, keyType PrimaryKeyType, keyValue string) (*Identity, error)
	ListIdentitiesByPerson(ctx context.Context, tenantID id.TenantID, personID id.PersonID) ([]*Identity, error)

	CreateContext(ctx context.Context, c *Context) error
	GetContext(ctx context.Context, tenantID id.TenantID, contextID id.ContextID) (*Context, error)
	// SaveContext performs an optimistic-concurrency update keyed on ID,
	// incrementing Version. A version mismatch returns sentinel.ErrConflict.
	SaveContext(ctx context.Context, c *Context) error
	ListContextsByIdentity(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) ([]*Context, error)

	CreateAttribute(ctx context.Context, a *Attribute) error
	GetAttribute(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID) (*Attribute, error)
	SaveAttribute(ctx context.Context, a *Attribute) error
	ListAttributesByContext(ctx context.Context, tenantID id.TenantID, contextID id.ContextID) ([]*Attribute, error)
	SearchAttributes(ctx context.Context, filter AttributeFilter) ([]*Attribute, error)
}
