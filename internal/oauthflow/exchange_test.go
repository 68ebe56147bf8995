package oauthflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenCall struct {
	Path string
	Form url.Values
}

// newTokenServer answers every POST with respond(form). Calls are recorded in
// order.
func newTokenServer(t *testing.T, respond func(form url.Values) (int, any)) (*httptest.Server, *[]tokenCall) {
	t.Helper()
	calls := &[]tokenCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		*calls = append(*calls, tokenCall{Path: r.URL.Path, Form: r.PostForm})
		status, body := respond(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func serverConfig(srv *httptest.Server) ConnectorConfig {
	return ConnectorConfig{
		Slug:                     "shopify",
		ClientID:                 "cid",
		ClientSecret:             "csecret",
		AuthorizationURLTemplate: srv.URL + "/{store}/authorize",
		TokenURLTemplate:         srv.URL + "/{store}/token",
		Scopes:                   []string{"read_products"},
		MetadataFields:           []string{"store"},
		IsPlatformApp:            true,
	}
}

func TestExchanger_Exchange(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	srv, calls := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":               "at-1",
			"token_type":                 "bearer",
			"refresh_token":              "rt-1",
			"expires_at":                 expiresAt,
			"x_refresh_token_expires_in": 8726400,
			"scope":                      "read_products",
		}
	})

	res, err := NewExchanger(srv.Client()).Exchange(context.Background(), serverConfig(srv), map[string]string{"store": "shop1"}, "https://app.example.com/cb", "the-code")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/shop1/token", call.Path)
	assert.Equal(t, "authorization_code", call.Form.Get("grant_type"))
	assert.Equal(t, "the-code", call.Form.Get("code"))
	assert.Equal(t, "cid", call.Form.Get("client_id"))
	assert.Equal(t, "csecret", call.Form.Get("client_secret"))
	assert.Equal(t, "https://app.example.com/cb", call.Form.Get("redirect_uri"))
	assert.Empty(t, call.Form.Get("scope"))

	assert.Equal(t, "at-1", res.AccessToken)
	assert.Equal(t, "rt-1", res.RefreshToken)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, expiresAt, res.ExpiresAt.Unix())
	require.NotNil(t, res.RefreshTokenExpiresIn)
	assert.Equal(t, 8726400*time.Second, *res.RefreshTokenExpiresIn)
}

func TestExchanger_ExpiresInFallback(t *testing.T) {
	srv, _ := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"access_token": "at", "expires_in": 3600}
	})
	before := time.Now()
	res, err := NewExchanger(srv.Client()).Exchange(context.Background(), serverConfig(srv), map[string]string{"store": "s"}, "", "c")
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, before.Add(time.Hour), *res.ExpiresAt, 5*time.Second)
	assert.Nil(t, res.RefreshTokenExpiresIn)
	assert.Empty(t, res.RefreshToken)
}

func TestExchanger_ProviderRejection(t *testing.T) {
	srv, _ := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code expired"}
	})
	_, err := NewExchanger(srv.Client()).Exchange(context.Background(), serverConfig(srv), map[string]string{"store": "s"}, "", "c")

	var exErr *TokenExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)
	assert.Equal(t, "invalid_grant", exErr.ErrorCode)
	assert.Equal(t, "code expired", exErr.Description)
	assert.Contains(t, exErr.Body, "invalid_grant")
	assert.Equal(t, grantAuthorizationCode, exErr.Grant)
}

func TestExchanger_NestedProviderError(t *testing.T) {
	srv, _ := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "InvalidAuthenticationToken", "message": "bad client"}}
	})
	_, err := NewExchanger(srv.Client()).Refresh(context.Background(), serverConfig(srv), map[string]string{"store": "s"}, "rt")

	var exErr *TokenExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, http.StatusUnauthorized, exErr.StatusCode)
	assert.Equal(t, "InvalidAuthenticationToken", exErr.ErrorCode)
	assert.Equal(t, "bad client", exErr.Description)
}

func TestExchanger_RefreshAcceptsChangedScope(t *testing.T) {
	var n atomic.Int32
	srv, calls := newTokenServer(t, func(url.Values) (int, any) {
		n.Add(1)
		return http.StatusOK, map[string]any{
			"access_token": "at-2",
			"expires_in":   3600,
			"scope":        "offline_access Files.Read",
		}
	})
	cfg := serverConfig(srv)
	cfg.Scopes = []string{"Files.Read.All", "Sites.Read.All", "offline_access"}

	res, err := NewExchanger(srv.Client()).Refresh(context.Background(), cfg, map[string]string{"store": "s"}, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, "at-2", res.AccessToken)
	assert.Equal(t, "offline_access Files.Read", res.Scope)
	assert.Equal(t, "rt-1", res.RefreshToken, "old refresh token is kept when not rotated")

	form := (*calls)[0].Form
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-1", form.Get("refresh_token"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "csecret", form.Get("client_secret"))
	assert.Empty(t, form.Get("scope"))
}

func TestExchanger_RefreshWithoutToken(t *testing.T) {
	_, err := NewExchanger(nil).Refresh(context.Background(), shopifyConfig(), map[string]string{"store": "s"}, "")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}
