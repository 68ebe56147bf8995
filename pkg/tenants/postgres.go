// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tenant tables. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  host text UNIQUE,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS tenant_allowed_data_sources (
  tenant_id uuid REFERENCES tenants(id) ON DELETE CASCADE,
  data_source text NOT NULL,
  PRIMARY KEY (tenant_id, data_source)
);
`)
	return err
}

// SeedFromEnv ingests tenants and their allowed data sources.
// jsonSeed format (TENANT_SEED_JSON):
//
//	[{"id":"...","slug":"acme","host":"app.acme.com","allowed_data_sources":["googledrive","shopify"]}]
//
// Entries without an id get a fresh uuid.
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedEntry
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if _, err := dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,host)
		  VALUES ($1,$2,NULLIF($3,''))
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,host=EXCLUDED.host,updated_at=NOW()`,
			entry.ID, entry.Slug, entry.Host); err != nil {
			return fmt.Errorf("seed tenant %s: %w", entry.Slug, err)
		}
		for _, ds := range entry.AllowedDataSources {
			_, _ = dbPool.Exec(ctx, `INSERT INTO tenant_allowed_data_sources(tenant_id,data_source)
			 VALUES ($1,$2) ON CONFLICT DO NOTHING`, entry.ID, ds)
		}
	}
	return nil
}

const tenantSelect = `SELECT t.id::text, COALESCE(t.slug,''), COALESCE(t.host,''),
  COALESCE(ARRAY(SELECT a.data_source FROM tenant_allowed_data_sources a WHERE a.tenant_id=t.id ORDER BY a.data_source), ARRAY[]::text[])
  FROM tenants t `

func (p *pgProvider) scan(row pgx.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Host, &t.AllowedDataSources); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

// ResolveTenantByHost fetches a tenant using its host value.
func (p *pgProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	return p.scan(p.dbPool.QueryRow(ctx, tenantSelect+`WHERE t.host=$1`, host))
}

// ResolveTenantByID fetches a tenant by its UUID.
func (p *pgProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Tenant{}, ErrTenantNotFound
	}
	return p.scan(p.dbPool.QueryRow(ctx, tenantSelect+`WHERE t.id=$1`, id))
}
