package oauthflow

import (
	"regexp"
	"sort"
	"strings"

	"datasync/internal/connections"
	"datasync/pkg/connectors"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// OAuthInfo is a tenant-supplied OAuth app for connectors that are not
// platform apps.
type OAuthInfo struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	Scopes           []string `json:"scopes,omitempty"`
	AuthorizationURL string   `json:"authorization_url"`
	TokenURL         string   `json:"token_url"`
}

// ConnectorConfig is everything needed to run the code and refresh grants for
// one connector. URL templates may carry {name} placeholders resolved from the
// metadata collected at authorization start.
type ConnectorConfig struct {
	Slug                     string
	ClientID                 string
	ClientSecret             string
	AuthorizationURLTemplate string
	TokenURLTemplate         string
	Scopes                   []string
	MetadataFields           []string
	IsPlatformApp            bool
}

// NewConnectorConfig builds the config for def. For tenant-supplied apps the
// credentials, URLs and scopes come from custom and the catalog values are
// ignored.
func NewConnectorConfig(def connectors.Definition, custom *OAuthInfo) ConnectorConfig {
	cfg := ConnectorConfig{
		Slug:           def.Slug,
		MetadataFields: def.MetadataNames(),
		IsPlatformApp:  def.IsOwnApp,
	}
	if def.IsOwnApp || custom == nil {
		cfg.ClientID = def.ClientID
		cfg.ClientSecret = def.ClientSecret
		cfg.AuthorizationURLTemplate = def.AuthorizationURL
		cfg.TokenURLTemplate = def.TokenURL
		cfg.Scopes = append([]string(nil), def.Scopes...)
		return cfg
	}
	cfg.ClientID = custom.ClientID
	cfg.ClientSecret = custom.ClientSecret
	cfg.AuthorizationURLTemplate = custom.AuthorizationURL
	cfg.TokenURLTemplate = custom.TokenURL
	cfg.Scopes = append([]string(nil), custom.Scopes...)
	return cfg
}

// ConfigFromRecord rebuilds the config used to refresh an existing connection,
// preferring the app frozen into the record.
func ConfigFromRecord(def connectors.Definition, rec connections.Record) ConnectorConfig {
	if def.IsOwnApp || rec.App == nil {
		return NewConnectorConfig(def, nil)
	}
	return NewConnectorConfig(def, &OAuthInfo{
		ClientID:         rec.App.ClientID,
		ClientSecret:     rec.App.ClientSecret,
		Scopes:           rec.App.Scopes,
		AuthorizationURL: rec.App.AuthorizationURL,
		TokenURL:         rec.App.TokenURL,
	})
}

// App returns the OAuth app snapshot frozen into connection records.
func (c ConnectorConfig) App() *connections.OAuthApp {
	return &connections.OAuthApp{
		ClientID:         c.ClientID,
		ClientSecret:     c.ClientSecret,
		Scopes:           append([]string(nil), c.Scopes...),
		AuthorizationURL: c.AuthorizationURLTemplate,
		TokenURL:         c.TokenURLTemplate,
	}
}

// Placeholders lists the distinct template names used by both URLs.
func (c ConnectorConfig) Placeholders() []string {
	seen := map[string]bool{}
	for _, t := range []string{c.AuthorizationURLTemplate, c.TokenURLTemplate} {
		for _, m := range placeholderRe.FindAllStringSubmatch(t, -1) {
			seen[m[1]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks the fields every grant needs and that each URL placeholder
// is a declared metadata field.
func (c ConnectorConfig) Validate() error {
	switch {
	case c.ClientID == "":
		return &ConfigError{Connector: c.Slug, Field: "client_id", Reason: "missing"}
	case c.ClientSecret == "":
		return &ConfigError{Connector: c.Slug, Field: "client_secret", Reason: "missing"}
	case c.AuthorizationURLTemplate == "":
		return &ConfigError{Connector: c.Slug, Field: "authorization_url", Reason: "missing"}
	case c.TokenURLTemplate == "":
		return &ConfigError{Connector: c.Slug, Field: "token_url", Reason: "missing"}
	}
	declared := map[string]bool{}
	for _, f := range c.MetadataFields {
		declared[f] = true
	}
	for _, p := range c.Placeholders() {
		if !declared[p] {
			return &ConfigError{Connector: c.Slug, Field: p, Reason: "url placeholder is not a declared metadata field"}
		}
	}
	return nil
}

// AuthorizationURL resolves the authorization URL template.
func (c ConnectorConfig) AuthorizationURL(metadata map[string]string) (string, error) {
	return c.expand(c.AuthorizationURLTemplate, metadata)
}

// TokenURL resolves the token URL template.
func (c ConnectorConfig) TokenURL(metadata map[string]string) (string, error) {
	return c.expand(c.TokenURLTemplate, metadata)
}

func (c ConnectorConfig) expand(tmpl string, metadata map[string]string) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v := strings.TrimSpace(metadata[name])
		if firstErr != nil {
			return m
		}
		if v == "" {
			firstErr = &ConfigError{Connector: c.Slug, Field: name, Reason: "metadata value required"}
			return m
		}
		if strings.ContainsAny(v, "/?#@:\\ ") {
			firstErr = &ConfigError{Connector: c.Slug, Field: name, Reason: "metadata value contains url delimiters"}
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// MetadataValues picks the declared metadata fields out of a free-form map,
// such as a record's other_info.
func (c ConnectorConfig) MetadataValues(src map[string]any) map[string]string {
	out := map[string]string{}
	for _, f := range c.MetadataFields {
		if s, ok := src[f].(string); ok {
			out[f] = s
		}
	}
	return out
}
