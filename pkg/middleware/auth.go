// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"datasync/pkg/config"
	"datasync/pkg/problems"
)

// RoleTenantAdmin may connect, disconnect and configure data sources.
const RoleTenantAdmin = "tenant_admin"

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	TenantID string
	Roles    []string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type ctxPrincipalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey{}, p)
}

// PrincipalFrom returns the principal set by JWTAuth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey{}).(Principal)
	return p, ok
}

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

func publicPath(p string) bool {
	return p == "/healthz" || p == "/metrics" || strings.HasPrefix(p, "/.well-known/")
}

// JWTAuth validates bearer tokens against the configured issuer and JWKS and
// stores the caller's Principal in the request context. In dev, requests
// without an Authorization header are accepted and described by the
// X-Tenant-ID, X-User-ID and X-Role headers.
func JWTAuth(cfg config.Config) func(http.Handler) http.Handler {
	cache := &jwksCache{}
	jwksTTL := 6 * time.Hour
	issuer := strings.TrimRight(cfg.Issuer, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if cfg.Env == "dev" && authz == "" {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), devPrincipal(r))))
				return
			}
			if issuer == "" || cfg.JWKSURL == "" {
				problems.Write(w, http.StatusInternalServerError, "auth-not-configured", "Auth not configured", "", nil)
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				problems.Write(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token", "", nil)
				return
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])

			set, err := cache.get(r.Context(), cfg.JWKSURL, jwksTTL)
			if err != nil {
				problems.Write(w, http.StatusInternalServerError, "jwks-unavailable", "JWKS fetch failed", "", nil)
				return
			}
			opts := []jwt.ParseOption{
				jwt.WithKeySet(set),
				jwt.WithIssuer(issuer),
				jwt.WithValidate(true),
				jwt.WithAcceptableSkew(30 * time.Second),
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			jt, err := jwt.Parse([]byte(raw), opts...)
			if err != nil {
				problems.Write(w, http.StatusUnauthorized, "unauthorized", "Invalid token", err.Error(), nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principalFromToken(jt))))
		})
	}
}

func devPrincipal(r *http.Request) Principal {
	p := Principal{
		UserID:   strings.TrimSpace(r.Header.Get("X-User-ID")),
		TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-ID")),
	}
	if p.UserID == "" {
		p.UserID = "dev-user"
	}
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if role == "" {
		role = RoleTenantAdmin
	}
	p.Roles = []string{role}
	return p
}

// principalFromToken reads sub, tid and roles. Roles come from a "role"
// string, a "roles" array and the space separated "scope" claim.
func principalFromToken(jt jwt.Token) Principal {
	p := Principal{UserID: jt.Subject()}
	if tid, ok := jt.Get("tid"); ok {
		p.TenantID, _ = tid.(string)
	}
	if v, ok := jt.Get("role"); ok {
		if s, _ := v.(string); s != "" {
			p.Roles = append(p.Roles, s)
		}
	}
	if v, ok := jt.Get("roles"); ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, _ := item.(string); s != "" {
					p.Roles = append(p.Roles, s)
				}
			}
		}
	}
	if v, ok := jt.Get("scope"); ok {
		if s, _ := v.(string); s != "" {
			p.Roles = append(p.Roles, strings.Fields(s)...)
		}
	}
	return p
}
