package tenants

import "context"

// Directory is the read-only college listing.
type Directory interface {
	List(ctx context.Context) ([]*Tenant, error)
	Get(ctx context.Context, id int64) (*Tenant, error)
}
