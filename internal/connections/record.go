// Package connections holds the durable per-tenant connection records: the
// latest token material for one connector plus free-form settings such as
// selected folders.
package connections

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConnected is returned when no record exists for (tenant, connector).
var ErrNotConnected = errors.New("connector not connected")

// Credential keys kept in AuthInfo.
const (
	KeyAccessToken = "access_token"
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyAPIKey      = "api_key"
)

// FoldersKey is the other_info entry holding folder selections. It is a flat
// list for most connectors and a site id -> list mapping for SharePoint.
const FoldersKey = "folders"

// OAuthApp is the tenant-supplied OAuth client frozen into a record so later
// refreshes do not depend on the authorization flow state.
type OAuthApp struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	Scopes           []string `json:"scopes,omitempty"`
	AuthorizationURL string   `json:"authorization_url,omitempty"`
	TokenURL         string   `json:"token_url,omitempty"`
}

// Record is one (tenant, connector) connection.
type Record struct {
	TenantID              string            `json:"tenant_id"`
	Connector             string            `json:"connector"`
	AuthInfo              map[string]string `json:"-"`
	RefreshToken          string            `json:"-"`
	AccessTokenExpiresAt  *time.Time        `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time        `json:"refresh_token_expires_at,omitempty"`
	OtherInfo             map[string]any    `json:"other_info"`
	App                   *OAuthApp         `json:"-"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func (r Record) AccessToken() string { return r.AuthInfo[KeyAccessToken] }

// Folders returns the raw folder selection, or nil when none was saved.
func (r Record) Folders() any {
	if r.OtherInfo == nil {
		return nil
	}
	return r.OtherInfo[FoldersKey]
}

// Clone deep-copies the record so callers can mutate it without touching
// what a store handed out.
func (r Record) Clone() Record {
	out := r
	out.AuthInfo = make(map[string]string, len(r.AuthInfo))
	for k, v := range r.AuthInfo {
		out.AuthInfo[k] = v
	}
	out.OtherInfo = cloneMap(r.OtherInfo)
	if r.App != nil {
		app := *r.App
		app.Scopes = append([]string(nil), r.App.Scopes...)
		out.App = &app
	}
	if r.AccessTokenExpiresAt != nil {
		t := *r.AccessTokenExpiresAt
		out.AccessTokenExpiresAt = &t
	}
	if r.RefreshTokenExpiresAt != nil {
		t := *r.RefreshTokenExpiresAt
		out.RefreshTokenExpiresAt = &t
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := map[string]any{}
	if len(m) == 0 {
		return out
	}
	b, err := json.Marshal(m)
	if err != nil {
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// Store persists connection records. At most one record exists per
// (tenant, connector); Upsert overwrites.
type Store interface {
	Get(ctx context.Context, tenantID, connector string) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, tenantID, connector string) error
	ListByTenant(ctx context.Context, tenantID string) ([]Record, error)
}
