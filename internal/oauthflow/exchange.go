package oauthflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"datasync/pkg/metrics"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// TokenResult is what a token endpoint handed back. Optional fields are nil or
// empty when the provider omitted them.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	// ExpiresAt is the absolute access token expiry, from expires_at or
	// derived from expires_in.
	ExpiresAt *time.Time
	// RefreshTokenExpiresIn is the relative x_refresh_token_expires_in some
	// providers (QuickBooks) send.
	RefreshTokenExpiresIn *time.Duration
	// Scope is what the provider granted. It may differ from what was asked.
	Scope string
}

// Callback is the parsed provider redirect.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback extracts code, state and any provider error from the full
// redirect URL.
func ParseCallback(raw string) (Callback, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	q := u.Query()
	cb := Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if cb.Error == "" && cb.Code == "" {
		return cb, fmt.Errorf("%w: no code", ErrInvalidCallback)
	}
	return cb, nil
}

// Exchanger talks to provider token endpoints. Requests send client_id and
// client_secret in the form body and never re-send or validate scope, so a
// provider that narrows or widens the grant is accepted.
type Exchanger struct {
	client *http.Client
}

func NewExchanger(client *http.Client) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Exchanger{client: client}
}

func (e *Exchanger) oauthConfig(cfg ConnectorConfig, tokenURL, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Exchange trades an authorization code for tokens.
func (e *Exchanger) Exchange(ctx context.Context, cfg ConnectorConfig, metadata map[string]string, redirectURI, code string) (TokenResult, error) {
	if err := cfg.Validate(); err != nil {
		return TokenResult{}, err
	}
	tokenURL, err := cfg.TokenURL(metadata)
	if err != nil {
		return TokenResult{}, err
	}
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := e.oauthConfig(cfg, tokenURL, redirectURI).Exchange(ctx, code)
	metrics.ObserveSince("token_"+grantAuthorizationCode, start)
	metrics.TokenRequests.WithLabelValues(cfg.Slug, grantAuthorizationCode, metrics.Outcome(err)).Inc()
	if err != nil {
		return TokenResult{}, exchangeError(cfg.Slug, grantAuthorizationCode, err)
	}
	return resultFromToken(tok), nil
}

// Refresh trades a refresh token for a new access token. When the provider
// does not rotate the refresh token the result carries the old one.
func (e *Exchanger) Refresh(ctx context.Context, cfg ConnectorConfig, metadata map[string]string, refreshToken string) (TokenResult, error) {
	if refreshToken == "" {
		return TokenResult{}, ErrNoRefreshToken
	}
	if err := cfg.Validate(); err != nil {
		return TokenResult{}, err
	}
	tokenURL, err := cfg.TokenURL(metadata)
	if err != nil {
		return TokenResult{}, err
	}
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	src := e.oauthConfig(cfg, tokenURL, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	metrics.ObserveSince("token_"+grantRefreshToken, start)
	metrics.TokenRequests.WithLabelValues(cfg.Slug, grantRefreshToken, metrics.Outcome(err)).Inc()
	if err != nil {
		return TokenResult{}, exchangeError(cfg.Slug, grantRefreshToken, err)
	}
	return resultFromToken(tok), nil
}

func resultFromToken(tok *oauth2.Token) TokenResult {
	res := TokenResult{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if n, ok := number(tok.Extra("expires_at")); ok && n > 0 {
		t := time.Unix(int64(n), 0).UTC()
		res.ExpiresAt = &t
	} else if !tok.Expiry.IsZero() {
		t := tok.Expiry.UTC()
		res.ExpiresAt = &t
	}
	if n, ok := number(tok.Extra("x_refresh_token_expires_in")); ok && n > 0 {
		d := time.Duration(n) * time.Second
		res.RefreshTokenExpiresIn = &d
	}
	if s, ok := tok.Extra("scope").(string); ok {
		res.Scope = s
	}
	return res
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func exchangeError(slug, grant string, err error) error {
	out := &TokenExchangeError{Connector: slug, Grant: grant, Err: err}
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return out
	}
	if re.Response != nil {
		out.StatusCode = re.Response.StatusCode
	}
	out.Body = string(re.Body)
	out.ErrorCode = re.ErrorCode
	out.Description = re.ErrorDescription
	if out.ErrorCode == "" && gjson.ValidBytes(re.Body) {
		// Some providers nest the error: {"error":{"code":..,"message":..}}
		// or return a list: {"errors":[{"message":..}]}.
		r := gjson.GetManyBytes(re.Body, "error.code", "error.message", "errors.0.code", "errors.0.message", "message")
		switch {
		case r[0].Exists():
			out.ErrorCode, out.Description = r[0].String(), r[1].String()
		case r[2].Exists() || r[3].Exists():
			out.ErrorCode, out.Description = r[2].String(), r[3].String()
		case r[4].Exists():
			out.Description = r[4].String()
		}
	}
	return out
}
