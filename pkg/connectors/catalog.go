package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datasync/pkg/secrets"
)

var ErrUnknownConnector = errors.New("unknown connector")

type AuthMethod string

const (
	AuthOAuth2      AuthMethod = "oauth2"
	AuthAPIKey      AuthMethod = "api_key"
	AuthBasic       AuthMethod = "basic"
	AuthAPIKeyBasic AuthMethod = "api_key_basic"
)

// Folder-lister capabilities. Empty means the connector has no remote listing.
const (
	KindGoogleDrive = "googledrive"
	KindSharePoint  = "sharepoint"
	KindFacebook    = "facebook"
)

// MetadataField is an extra value collected from the tenant before the OAuth
// URLs can be built (e.g. the Shopify store name).
type MetadataField struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Definition is one catalog entry (a data source a tenant may connect).
// IsOwnApp marks a platform-owned OAuth app; when false the tenant brings
// its own client credentials and URLs at authorization time.
type Definition struct {
	Slug             string          `json:"slug" yaml:"slug"`
	Name             string          `json:"name" yaml:"name"`
	Kind             string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	AuthMethod       AuthMethod      `json:"auth_method" yaml:"auth_method"`
	Logo             string          `json:"logo,omitempty" yaml:"logo,omitempty"`
	Description      string          `json:"description,omitempty" yaml:"description,omitempty"`
	IsOwnApp         bool            `json:"is_own_app" yaml:"is_own_app"`
	ClientID         string          `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret     string          `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	AuthorizationURL string          `json:"authorization_url,omitempty" yaml:"authorization_url,omitempty"`
	TokenURL         string          `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes           []string        `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Metadata         []MetadataField `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SiteKeyed reports whether folder selections are stored per site id
// (a mapping) rather than as a flat list.
func (d Definition) SiteKeyed() bool { return d.Kind == KindSharePoint }

func (d Definition) IsOAuth() bool { return d.AuthMethod == AuthOAuth2 || d.AuthMethod == "" }

func (d Definition) MetadataNames() []string {
	out := make([]string, 0, len(d.Metadata))
	for _, m := range d.Metadata {
		out = append(out, m.Name)
	}
	return out
}

// Catalog resolves connector definitions from static entries (catalog files)
// and, when a pool is configured, the data_sources table. DB rows win.
type Catalog struct {
	pool     *pgxpool.Pool
	sealer   *secrets.Sealer
	static   map[string]Definition
	mu       sync.RWMutex
	cached   map[string]Definition
	loadedAt time.Time
	ttl      time.Duration
}

func NewCatalog(pool *pgxpool.Pool, sealer *secrets.Sealer, static ...Definition) *Catalog {
	c := &Catalog{pool: pool, sealer: sealer, static: map[string]Definition{}, ttl: 30 * time.Second}
	for _, d := range static {
		c.static[d.Slug] = d
	}
	return c
}

// EnsureSchema creates the data_sources table. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS data_sources (
  slug text PRIMARY KEY,
  name text NOT NULL,
  kind text NOT NULL DEFAULT '',
  auth_method text NOT NULL DEFAULT 'oauth2',
  logo text,
  description text,
  is_own_app boolean NOT NULL DEFAULT true,
  client_id text,
  client_secret_encrypted bytea,
  authorization_url text,
  token_url text,
  scopes text[] DEFAULT '{}',
  metadata jsonb DEFAULT '[]'::jsonb,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

// Upsert writes definitions into data_sources (no-op without a pool).
func (c *Catalog) Upsert(ctx context.Context, defs []Definition) error {
	if c.pool == nil {
		c.mu.Lock()
		for _, d := range defs {
			c.static[d.Slug] = d
		}
		c.cached = nil
		c.mu.Unlock()
		return nil
	}
	for _, d := range defs {
		sec, err := c.sealer.Seal(d.ClientSecret)
		if err != nil {
			return err
		}
		meta, _ := json.Marshal(d.Metadata)
		if _, err := c.pool.Exec(ctx, `
			INSERT INTO data_sources (slug, name, kind, auth_method, logo, description, is_own_app, client_id, client_secret_encrypted, authorization_url, token_url, scopes, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (slug) DO UPDATE SET
			  name=EXCLUDED.name, kind=EXCLUDED.kind, auth_method=EXCLUDED.auth_method,
			  logo=EXCLUDED.logo, description=EXCLUDED.description, is_own_app=EXCLUDED.is_own_app,
			  client_id=EXCLUDED.client_id, client_secret_encrypted=EXCLUDED.client_secret_encrypted,
			  authorization_url=EXCLUDED.authorization_url, token_url=EXCLUDED.token_url,
			  scopes=EXCLUDED.scopes, metadata=EXCLUDED.metadata, updated_at=NOW()
		`, d.Slug, d.Name, d.Kind, string(d.AuthMethod), d.Logo, d.Description, d.IsOwnApp, d.ClientID, sec, d.AuthorizationURL, d.TokenURL, d.Scopes, meta); err != nil {
			return fmt.Errorf("upsert data source %s: %w", d.Slug, err)
		}
	}
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return nil
}

// Get returns the definition for slug or ErrUnknownConnector.
func (c *Catalog) Get(ctx context.Context, slug string) (Definition, error) {
	all, err := c.load(ctx)
	if err != nil {
		return Definition{}, err
	}
	d, ok := all[slug]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownConnector, slug)
	}
	return d, nil
}

// List returns every definition ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Definition, error) {
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(all))
	for _, d := range all {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) load(ctx context.Context) (map[string]Definition, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.loadedAt) < c.ttl {
		m := c.cached
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	m := make(map[string]Definition, len(c.static))
	c.mu.RLock()
	for k, v := range c.static {
		m[k] = v
	}
	c.mu.RUnlock()
	if c.pool != nil {
		rows, err := c.pool.Query(ctx, `
			SELECT slug, name, kind, auth_method, COALESCE(logo,''), COALESCE(description,''), is_own_app,
			       COALESCE(client_id,''), client_secret_encrypted, COALESCE(authorization_url,''), COALESCE(token_url,''),
			       COALESCE(scopes, ARRAY[]::text[]), COALESCE(metadata,'[]'::jsonb)
			FROM data_sources`)
		if err != nil {
			return nil, err
		}
		defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Definition, error) {
			var d Definition
			var method string
			var sec, meta []byte
			if err := row.Scan(&d.Slug, &d.Name, &d.Kind, &method, &d.Logo, &d.Description, &d.IsOwnApp,
				&d.ClientID, &sec, &d.AuthorizationURL, &d.TokenURL, &d.Scopes, &meta); err != nil {
				return d, err
			}
			d.AuthMethod = AuthMethod(method)
			if err := c.sealer.Open(sec, &d.ClientSecret); err != nil {
				return d, fmt.Errorf("data source %s secret: %w", d.Slug, err)
			}
			_ = json.Unmarshal(meta, &d.Metadata)
			return d, nil
		})
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			m[d.Slug] = d
		}
	}
	c.mu.Lock()
	c.cached = m
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return m, nil
}
