package oauthflow

import (
	"fmt"
	"time"

	"datasync/internal/connections"
)

// ApplyTokenResult derives the connection record for (tenantID, cfg.Slug) from
// a token result. prev is the record on file, or nil.
//
// auth_info is replaced wholesale by the new access token. Expiry and refresh
// token fields are overwritten only when the provider sent them. Metadata is
// merged into other_info, leaving folder selections alone. Tenant-supplied
// apps are frozen into the record so refreshes survive the flow state.
func ApplyTokenResult(prev *connections.Record, tenantID string, cfg ConnectorConfig, res TokenResult, metadata map[string]string, now time.Time) connections.Record {
	var rec connections.Record
	if prev != nil {
		rec = prev.Clone()
	} else {
		rec = connections.Record{OtherInfo: map[string]any{}}
	}
	rec.TenantID = tenantID
	rec.Connector = cfg.Slug
	rec.AuthInfo = map[string]string{connections.KeyAccessToken: res.AccessToken}
	if res.ExpiresAt != nil {
		t := *res.ExpiresAt
		rec.AccessTokenExpiresAt = &t
	}
	if res.RefreshToken != "" {
		rec.RefreshToken = res.RefreshToken
	}
	if res.RefreshTokenExpiresIn != nil {
		t := now.Add(*res.RefreshTokenExpiresIn).UTC()
		rec.RefreshTokenExpiresAt = &t
	}
	if rec.OtherInfo == nil {
		rec.OtherInfo = map[string]any{}
	}
	for k, v := range metadata {
		if k == connections.FoldersKey {
			continue
		}
		rec.OtherInfo[k] = v
	}
	if !cfg.IsPlatformApp {
		rec.App = cfg.App()
	}
	return rec
}

// SimpleCredentials splits a simple-connect payload: recognised credential
// fields go to auth_info and everything else is kept verbatim in other_info.
// Empty credential fields are dropped.
func SimpleCredentials(payload map[string]any) (map[string]string, map[string]any) {
	auth := map[string]string{}
	other := map[string]any{}
	for k, v := range payload {
		switch k {
		case connections.KeyUsername, connections.KeyPassword, connections.KeyAPIKey:
			switch c := v.(type) {
			case nil:
				continue
			case string:
				if c != "" {
					auth[k] = c
				}
				continue
			case float64, bool:
				auth[k] = fmt.Sprint(c)
				continue
			}
		}
		other[k] = v
	}
	return auth, other
}
