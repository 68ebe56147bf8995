package tenants

import "errors"

var ErrTenantNotFound = errors.New("tenant not found")

// AllDataSources in AllowedDataSources lets a tenant see every catalog entry.
const AllDataSources = "*"

// Tenant represents a logical customer / account space.
type Tenant struct {
	ID   string // uuid
	Slug string // short name (acme)
	Host string // primary host (app.acme.com)
	// AllowedDataSources are the catalog slugs offered to this tenant.
	AllowedDataSources []string
}

// Allows reports whether slug is offered to the tenant.
func (t Tenant) Allows(slug string) bool {
	for _, s := range t.AllowedDataSources {
		if s == slug || s == AllDataSources {
			return true
		}
	}
	return false
}
