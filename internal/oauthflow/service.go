package oauthflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"datasync/internal/connections"
	"datasync/pkg/connectors"
	"datasync/pkg/metrics"
)

// DefaultRouteSlug fills {route_slug} in the redirect template for data
// source connections.
const DefaultRouteSlug = "data-sources"

// Catalog resolves connector definitions by slug.
type Catalog interface {
	Get(ctx context.Context, slug string) (connectors.Definition, error)
}

// TokenExchanger runs the code and refresh grants. *Exchanger is the
// production implementation.
type TokenExchanger interface {
	Exchange(ctx context.Context, cfg ConnectorConfig, metadata map[string]string, redirectURI, code string) (TokenResult, error)
	Refresh(ctx context.Context, cfg ConnectorConfig, metadata map[string]string, refreshToken string) (TokenResult, error)
}

type Options struct {
	// RedirectURITemplate holds {route_slug} and {application_slug}.
	RedirectURITemplate string
	RouteSlug           string
	FlowTTL             time.Duration
	// AllowInsecureTransport accepts http:// callback URLs.
	AllowInsecureTransport bool
}

// Service drives the connection lifecycle: authorization start and callback,
// token refresh, simple-credential connects and disconnects.
type Service struct {
	log       *zap.SugaredLogger
	catalog   Catalog
	flows     FlowStore
	conns     connections.Store
	exchanger TokenExchanger
	opts      Options
	now       func() time.Time
}

func NewService(log *zap.SugaredLogger, catalog Catalog, flows FlowStore, conns connections.Store, exchanger TokenExchanger, opts Options) *Service {
	if opts.RouteSlug == "" {
		opts.RouteSlug = DefaultRouteSlug
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 10 * time.Minute
	}
	return &Service{
		log:       log,
		catalog:   catalog,
		flows:     flows,
		conns:     conns,
		exchanger: exchanger,
		opts:      opts,
		now:       time.Now,
	}
}

// BeginRequest starts an authorization for one user of a tenant. Custom is
// required for connectors that are not platform apps and ignored otherwise.
type BeginRequest struct {
	Connector string
	TenantID  string
	UserID    string
	Metadata  map[string]string
	Custom    *OAuthInfo
}

type BeginResult struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// BeginAuthorization builds the consent URL and records the flow state the
// callback will be checked against. A second call for the same pair replaces
// the earlier flow.
func (s *Service) BeginAuthorization(ctx context.Context, req BeginRequest) (BeginResult, error) {
	def, err := s.catalog.Get(ctx, req.Connector)
	if err != nil {
		return BeginResult{}, err
	}
	if !def.IsOAuth() {
		return BeginResult{}, &ConfigError{Connector: def.Slug, Field: "auth_method", Reason: "connector does not use oauth2"}
	}
	if !def.IsOwnApp && req.Custom == nil {
		return BeginResult{}, &ConfigError{Connector: def.Slug, Field: "client_id", Reason: "tenant-supplied oauth app required"}
	}
	cfg := NewConnectorConfig(def, req.Custom)
	metadata := map[string]string{}
	for _, f := range cfg.MetadataFields {
		if v, ok := req.Metadata[f]; ok {
			metadata[f] = strings.TrimSpace(v)
		}
	}
	redirect := RedirectURI(s.opts.RedirectURITemplate, s.opts.RouteSlug, def.Slug)
	authURL, state, err := BuildAuthorizationURL(AuthorizationRequest{Config: cfg, Metadata: metadata, RedirectURI: redirect})
	if err != nil {
		return BeginResult{}, err
	}
	fs := FlowState{
		Connector:   def.Slug,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Metadata:    metadata,
		State:       state,
		RedirectURI: redirect,
		CreatedAt:   s.now().UTC(),
	}
	if !def.IsOwnApp {
		custom := *req.Custom
		fs.CustomApp = &custom
	}
	if err := s.flows.Save(ctx, fs, s.opts.FlowTTL); err != nil {
		return BeginResult{}, err
	}
	metrics.FlowsStarted.WithLabelValues(def.Slug).Inc()
	s.log.Infow("authorization started", "connector", def.Slug, "tenant", req.TenantID, "user", req.UserID)
	return BeginResult{AuthorizationURL: authURL, State: state}, nil
}

// CompleteAuthorization verifies the callback against the stored flow,
// exchanges the code and upserts the connection record. The flow is consumed
// on success, so replaying a callback fails with ErrFlowNotFound.
func (s *Service) CompleteAuthorization(ctx context.Context, connector, tenantID, userID, callbackURL string) (TokenResult, error) {
	if !s.opts.AllowInsecureTransport && !strings.HasPrefix(strings.ToLower(callbackURL), "https://") {
		return TokenResult{}, ErrInsecureCallback
	}
	fs, err := s.flows.Load(ctx, connector, userID)
	if err != nil {
		return TokenResult{}, err
	}
	if fs.TenantID != tenantID {
		return TokenResult{}, ErrFlowNotFound
	}
	cb, err := ParseCallback(callbackURL)
	if err != nil {
		return TokenResult{}, err
	}
	if subtle.ConstantTimeCompare([]byte(cb.State), []byte(fs.State)) != 1 {
		s.log.Warnw("callback state mismatch", "connector", connector, "tenant", tenantID, "user", userID)
		return TokenResult{}, ErrStateMismatch
	}
	if cb.Error != "" {
		_ = s.flows.Delete(ctx, connector, userID)
		return TokenResult{}, &TokenExchangeError{
			Connector:   connector,
			Grant:       grantAuthorizationCode,
			ErrorCode:   cb.Error,
			Description: cb.ErrorDescription,
		}
	}
	def, err := s.catalog.Get(ctx, connector)
	if err != nil {
		return TokenResult{}, err
	}
	cfg := NewConnectorConfig(def, fs.CustomApp)
	res, err := s.exchanger.Exchange(ctx, cfg, fs.Metadata, fs.RedirectURI, cb.Code)
	if err != nil {
		s.log.Warnw("code exchange failed", "connector", connector, "tenant", tenantID, "err", err)
		return TokenResult{}, err
	}
	if err := s.store(ctx, tenantID, cfg, res, fs.Metadata); err != nil {
		return TokenResult{}, err
	}
	if err := s.flows.Delete(ctx, connector, userID); err != nil {
		s.log.Warnw("flow state delete failed", "connector", connector, "user", userID, "err", err)
	}
	s.log.Infow("connector connected", "connector", connector, "tenant", tenantID,
		"has_refresh_token", res.RefreshToken != "", "granted_scope", res.Scope)
	return res, nil
}

func (s *Service) store(ctx context.Context, tenantID string, cfg ConnectorConfig, res TokenResult, metadata map[string]string) error {
	var prev *connections.Record
	rec, err := s.conns.Get(ctx, tenantID, cfg.Slug)
	switch {
	case err == nil:
		prev = &rec
	case !errors.Is(err, connections.ErrNotConnected):
		return err
	}
	return s.conns.Upsert(ctx, ApplyTokenResult(prev, tenantID, cfg, res, metadata, s.now()))
}

// Refresh exchanges the stored refresh token and writes the new token
// material back. It returns connections.ErrNotConnected without a record.
func (s *Service) Refresh(ctx context.Context, connector, tenantID string) (TokenResult, error) {
	def, err := s.catalog.Get(ctx, connector)
	if err != nil {
		return TokenResult{}, err
	}
	rec, err := s.conns.Get(ctx, tenantID, connector)
	if err != nil {
		return TokenResult{}, err
	}
	cfg := ConfigFromRecord(def, rec)
	res, err := s.exchanger.Refresh(ctx, cfg, cfg.MetadataValues(rec.OtherInfo), rec.RefreshToken)
	if err != nil {
		s.log.Warnw("token refresh failed", "connector", connector, "tenant", tenantID, "err", err)
		return TokenResult{}, err
	}
	if err := s.conns.Upsert(ctx, ApplyTokenResult(&rec, tenantID, cfg, res, nil, s.now())); err != nil {
		return TokenResult{}, err
	}
	s.log.Infow("token refreshed", "connector", connector, "tenant", tenantID)
	return res, nil
}

// RefreshAccessToken refreshes and returns only the new access token.
func (s *Service) RefreshAccessToken(ctx context.Context, connector, tenantID string) (string, error) {
	res, err := s.Refresh(ctx, connector, tenantID)
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// Disconnect deletes the connection record. Disconnecting a connector that
// is not connected is not an error.
func (s *Service) Disconnect(ctx context.Context, connector, tenantID string) error {
	if _, err := s.catalog.Get(ctx, connector); err != nil {
		return err
	}
	if err := s.conns.Delete(ctx, tenantID, connector); err != nil {
		return err
	}
	s.log.Infow("connector disconnected", "connector", connector, "tenant", tenantID)
	return nil
}

// ConnectSimple stores api key or basic credentials. It replaces any record
// on file for the pair.
func (s *Service) ConnectSimple(ctx context.Context, connector, tenantID string, payload map[string]any) error {
	def, err := s.catalog.Get(ctx, connector)
	if err != nil {
		return err
	}
	if def.AuthMethod == connectors.AuthOAuth2 {
		return &ConfigError{Connector: def.Slug, Field: "auth_method", Reason: "connector uses oauth2"}
	}
	auth, other := SimpleCredentials(payload)
	if len(auth) == 0 {
		return &ConfigError{Connector: def.Slug, Field: "auth_info", Reason: "username, password or api_key required"}
	}
	rec := connections.Record{
		TenantID:  tenantID,
		Connector: def.Slug,
		AuthInfo:  auth,
		OtherInfo: other,
	}
	if err := s.conns.Upsert(ctx, rec); err != nil {
		return err
	}
	s.log.Infow("connector connected", "connector", def.Slug, "tenant", tenantID, "auth_method", def.AuthMethod)
	return nil
}
