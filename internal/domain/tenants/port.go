package tenants

import "context"

// Repository port (persistence for tenants)
type Repository interface {
	// Upsert inserts or updates by ExternalID. Returns ErrCodeConflict when
	// the short code is already taken by a different tenant.
	Upsert(ctx context.Context, t *Tenant) error

	// ListActive returns active tenants ordered by external id, so repeated
	// runs walk tenants in the same order.
	ListActive(ctx context.Context) ([]*Tenant, error)

	GetByExternalID(ctx context.Context, externalID string) (*Tenant, error)

	// Deactivate clears the active flag. Tenants are never hard-deleted while
	// job history references them.
	Deactivate(ctx context.Context, externalID string) error
}
