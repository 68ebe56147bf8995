// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"datasync/pkg/problems"
	"datasync/pkg/tenants"
)

type ctxTenantKey struct{}

// WithTenant resolves the caller's tenant from the principal's tenant id.
// With hostFallback set, a principal without one is mapped by request host.
func WithTenant(prov tenants.Provider, hostFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			p, _ := PrincipalFrom(r.Context())
			var (
				t   tenants.Tenant
				err error
			)
			switch {
			case p.TenantID != "":
				t, err = prov.ResolveTenantByID(r.Context(), p.TenantID)
			case hostFallback:
				t, err = resolveByHost(r, prov)
			default:
				problems.Write(w, http.StatusForbidden, "missing-tenant", "Token carries no tenant", "", nil)
				return
			}
			if errors.Is(err, tenants.ErrTenantNotFound) {
				problems.Write(w, http.StatusNotFound, "unknown-tenant", "Unknown tenant", "", nil)
				return
			}
			if err != nil {
				problems.Write(w, http.StatusInternalServerError, "tenant-lookup", "Tenant lookup failed", "", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ctxTenantKey{}, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveByHost(r *http.Request, prov tenants.Provider) (tenants.Tenant, error) {
	host := r.Host
	if i := strings.Index(host, ":"); i > 0 {
		host = host[:i]
	}
	// Inside Docker the service is reached under other names; the dev seed uses localhost.
	tryHosts := []string{host}
	switch host {
	case "127.0.0.1", "host.docker.internal", "datasync":
		tryHosts = append(tryHosts, "localhost")
	}
	var (
		t   tenants.Tenant
		err error
	)
	for _, h := range tryHosts {
		t, err = prov.ResolveTenantByHost(r.Context(), h)
		if err == nil {
			return t, nil
		}
	}
	return t, err
}

// WithTenantValue stores t in ctx.
func WithTenantValue(ctx context.Context, t tenants.Tenant) context.Context {
	return context.WithValue(ctx, ctxTenantKey{}, t)
}

func TenantFrom(ctx context.Context) tenants.Tenant {
	if v := ctx.Value(ctxTenantKey{}); v != nil {
		return v.(tenants.Tenant)
	}
	return tenants.Tenant{}
}
