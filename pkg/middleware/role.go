// pkg/middleware/role.go
package middleware

import (
	"net/http"

	"datasync/pkg/problems"
)

// RequireRole lets the request through when the principal has any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				problems.Write(w, http.StatusUnauthorized, "unauthorized", "Not authenticated", "", nil)
				return
			}
			for _, role := range roles {
				if p.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			problems.Write(w, http.StatusForbidden, "forbidden", "Insufficient role", "", map[string]any{"required": roles})
		})
	}
}
