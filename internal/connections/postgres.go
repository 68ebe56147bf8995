package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datasync/pkg/db"
	"datasync/pkg/secrets"
)

// PostgresStore keeps records in data_connections. Credentials (auth_info,
// refresh token and a frozen OAuth app) are sealed into one column.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sealer *secrets.Sealer
}

func NewPostgresStore(pool *pgxpool.Pool, sealer *secrets.Sealer) *PostgresStore {
	return &PostgresStore{pool: pool, sealer: sealer}
}

// sealed is the encrypted part of a row.
type sealed struct {
	AuthInfo     map[string]string `json:"auth_info"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	App          *OAuthApp         `json:"app,omitempty"`
}

// EnsureSchema creates data_connections. The unique key enforces one record
// per (tenant, connector).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS data_connections (
  tenant_id text NOT NULL,
  connector text NOT NULL,
  credentials_encrypted bytea NOT NULL,
  access_token_expires_at timestamptz,
  refresh_token_expires_at timestamptz,
  other_info jsonb NOT NULL DEFAULT '{}'::jsonb,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, connector)
);
`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, connector string) (Record, error) {
	var rec Record
	err := db.WithTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT tenant_id, connector, credentials_encrypted, access_token_expires_at, refresh_token_expires_at, other_info, updated_at
			FROM data_connections WHERE tenant_id=$1 AND connector=$2`, tenantID, connector)
		r, err := s.scan(row)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotConnected
	}
	return rec, err
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	blob, err := s.sealer.Seal(sealed{AuthInfo: rec.AuthInfo, RefreshToken: rec.RefreshToken, App: rec.App})
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	other := rec.OtherInfo
	if other == nil {
		other = map[string]any{}
	}
	otherJSON, err := json.Marshal(other)
	if err != nil {
		return fmt.Errorf("encode other_info: %w", err)
	}
	return db.WithTenantTx(ctx, s.pool, rec.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO data_connections (tenant_id, connector, credentials_encrypted, access_token_expires_at, refresh_token_expires_at, other_info)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (tenant_id, connector) DO UPDATE SET
			  credentials_encrypted=EXCLUDED.credentials_encrypted,
			  access_token_expires_at=EXCLUDED.access_token_expires_at,
			  refresh_token_expires_at=EXCLUDED.refresh_token_expires_at,
			  other_info=EXCLUDED.other_info,
			  updated_at=NOW()`,
			rec.TenantID, rec.Connector, blob, rec.AccessTokenExpiresAt, rec.RefreshTokenExpiresAt, otherJSON)
		return err
	})
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, connector string) error {
	return db.WithTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM data_connections WHERE tenant_id=$1 AND connector=$2`, tenantID, connector)
		return err
	})
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]Record, error) {
	var out []Record
	err := db.WithTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT tenant_id, connector, credentials_encrypted, access_token_expires_at, refresh_token_expires_at, other_info, updated_at
			FROM data_connections WHERE tenant_id=$1 ORDER BY connector`, tenantID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
			return s.scan(row)
		})
		return err
	})
	if out == nil {
		out = []Record{}
	}
	return out, err
}

func (s *PostgresStore) scan(row pgx.Row) (Record, error) {
	var (
		rec          Record
		blob, other  []byte
		atExp, rtExp *time.Time
	)
	if err := row.Scan(&rec.TenantID, &rec.Connector, &blob, &atExp, &rtExp, &other, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	var cred sealed
	if err := s.sealer.Open(blob, &cred); err != nil {
		return Record{}, fmt.Errorf("open credentials for %s: %w", rec.Connector, err)
	}
	rec.AuthInfo = cred.AuthInfo
	if rec.AuthInfo == nil {
		rec.AuthInfo = map[string]string{}
	}
	rec.RefreshToken = cred.RefreshToken
	rec.App = cred.App
	rec.AccessTokenExpiresAt = atExp
	rec.RefreshTokenExpiresAt = rtExp
	rec.OtherInfo = map[string]any{}
	if len(other) > 0 {
		if err := json.Unmarshal(other, &rec.OtherInfo); err != nil {
			return Record{}, fmt.Errorf("decode other_info: %w", err)
		}
	}
	return rec, nil
}
