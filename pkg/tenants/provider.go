package tenants

import (
	"context"
)

type Provider interface {
	// Resolve tenant from incoming host (dev and single-tenant installs).
	ResolveTenantByHost(ctx context.Context, host string) (Tenant, error)
	// Resolve tenant from the token's tid claim.
	ResolveTenantByID(ctx context.Context, id string) (Tenant, error)
}

// seedEntry is one TENANT_SEED_JSON element.
type seedEntry struct {
	ID                 string   `json:"id"`
	Slug               string   `json:"slug"`
	Host               string   `json:"host"`
	AllowedDataSources []string `json:"allowed_data_sources"`
}

func (e seedEntry) tenant() Tenant {
	return Tenant{ID: e.ID, Slug: e.Slug, Host: e.Host, AllowedDataSources: e.AllowedDataSources}
}
