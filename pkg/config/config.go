// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	BasePublicURL string

	// OAuthRedirectURI is a template holding {route_slug} and {application_slug}.
	OAuthRedirectURI string
	// FlowTTL bounds one authorize -> callback round trip.
	FlowTTL time.Duration
	// AllowInsecureTransport permits http:// callback URLs (local development).
	AllowInsecureTransport bool

	// Bearer auth for inbound requests
	Issuer   string
	Audience string
	JWKSURL  string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	// EncryptionKey seals credential material at rest when set.
	EncryptionKey string

	CatalogDir  string
	CORSOrigins []string

	// Upstream overrides (tests, sovereign clouds)
	GoogleDriveEndpoint string
	GraphEndpoint       string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                    env("DATASYNC_ENV", "dev"),
		HTTPAddr:               env("DATASYNC_HTTP_ADDR", ":8080"),
		BasePublicURL:          env("BASE_PUBLIC_URL", "http://localhost:3000"),
		OAuthRedirectURI:       env("OAUTH_REDIRECT_URI", "http://localhost:3000/tenant-admin/connectors/{route_slug}/callback/{application_slug}"),
		FlowTTL:                envDur("OAUTH_FLOW_TTL_SEC", 600) * time.Second,
		AllowInsecureTransport: envBool("OAUTH_ALLOW_INSECURE_TRANSPORT", false),
		Issuer:                 env("OIDC_ISSUER", ""),
		Audience:               env("OIDC_AUDIENCE", "datasync"),
		JWKSURL:                env("JWKS_URL", ""),
		RedisURL:               env("REDIS_URL", ""),
		DatabaseURL:            env("DATABASE_URL", ""),
		EncryptionKey:          env("ENCRYPTION_KEY", ""),
		CatalogDir:             env("CONNECTOR_CATALOG_DIR", ""),
		CORSOrigins:            envList("ADMIN_CORS_ORIGINS", []string{"http://localhost:3000"}),
		GoogleDriveEndpoint:    env("GOOGLE_DRIVE_ENDPOINT", ""),
		GraphEndpoint:          env("MS_GRAPH_ENDPOINT", "https://graph.microsoft.com/v1.0"),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory connection store for dev")
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, OAuth flow state kept in process memory")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
