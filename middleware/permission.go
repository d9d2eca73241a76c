package middleware

import (
	"net/http"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/permission"
)

// Authorizer is the part of stayAuth.Engine RequirePermission needs.
type Authorizer interface {
	Authorize(id *stayAuth.Identity, perm permission.Permission, scope ...string) bool
}

// RequirePermission must run behind Guard. scope, when non-nil, returns the tenant the
// request targets; an empty result means no tenant scope.
func RequirePermission(engine Authorizer, perm permission.Permission, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := stayAuth.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var scopes []string
			if scope != nil {
				if tenant := scope(r); tenant != "" {
					scopes = append(scopes, tenant)
				}
			}
			if engine == nil || !engine.Authorize(id, perm, scopes...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
