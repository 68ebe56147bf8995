package oauthflow

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/oauth2"
)

const (
	stateAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	stateLength   = 30
)

// NewState returns an unguessable state nonce.
func NewState() (string, error) {
	var sb strings.Builder
	sb.Grow(stateLength)
	limit := big.NewInt(int64(len(stateAlphabet)))
	for i := 0; i < stateLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate state: %w", err)
		}
		sb.WriteByte(stateAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// RedirectURI fills the {route_slug} and {application_slug} placeholders of
// the configured redirect template.
func RedirectURI(tmpl, routeSlug, slug string) string {
	return strings.NewReplacer("{route_slug}", routeSlug, "{application_slug}", slug).Replace(tmpl)
}

// AuthorizationRequest is the input to BuildAuthorizationURL. State may be
// empty, in which case a fresh one is generated.
type AuthorizationRequest struct {
	Config      ConnectorConfig
	Metadata    map[string]string
	RedirectURI string
	State       string
}

// BuildAuthorizationURL returns the provider consent URL and the state it
// carries. It performs no I/O and fails with *ConfigError before generating
// anything when the config or metadata is incomplete.
func BuildAuthorizationURL(req AuthorizationRequest) (string, string, error) {
	if err := req.Config.Validate(); err != nil {
		return "", "", err
	}
	authURL, err := req.Config.AuthorizationURL(req.Metadata)
	if err != nil {
		return "", "", err
	}
	state := req.State
	if state == "" {
		if state, err = NewState(); err != nil {
			return "", "", err
		}
	}
	oc := &oauth2.Config{
		ClientID:    req.Config.ClientID,
		RedirectURL: req.RedirectURI,
		Scopes:      req.Config.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: authURL},
	}
	return oc.AuthCodeURL(state), state, nil
}
