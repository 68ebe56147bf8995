// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"
)

// DevTenantID is the tenant served when no seed is configured.
const DevTenantID = "00000000-0000-0000-0000-000000000001"

type memProvider struct {
	log    *zap.SugaredLogger
	byHost map[string]Tenant
	byID   map[string]Tenant
}

// NewMemoryProvider serves a fixed tenant set.
func NewMemoryProvider(log *zap.SugaredLogger, ts ...Tenant) Provider {
	p := &memProvider{log: log, byHost: map[string]Tenant{}, byID: map[string]Tenant{}}
	for _, t := range ts {
		p.byID[t.ID] = t
		if t.Host != "" {
			p.byHost[t.Host] = t
		}
	}
	return p
}

// NewMemoryProviderFromEnv reads TENANT_SEED_JSON, or falls back to a single
// localhost dev tenant that may use every data source.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed != "" {
		var entries []seedEntry
		if err := json.Unmarshal([]byte(seed), &entries); err != nil {
			log.Warnw("TENANT_SEED_JSON ignored", "err", err)
		} else {
			ts := make([]Tenant, 0, len(entries))
			for _, e := range entries {
				ts = append(ts, e.tenant())
			}
			return NewMemoryProvider(log, ts...)
		}
	}
	return NewMemoryProvider(log, Tenant{
		ID: DevTenantID, Slug: "dev", Host: "localhost",
		AllowedDataSources: []string{AllDataSources},
	})
}

func (m *memProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	if t, ok := m.byHost[host]; ok {
		return t, nil
	}
	return Tenant{}, ErrTenantNotFound
}

func (m *memProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, ErrTenantNotFound
}
