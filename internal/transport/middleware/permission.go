package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/access-management/internal/auth"
	"github.com/frahmantamala/access-management/internal/rbac"
)

// RequireCapability guards a route with an app/feature permission check
// against the caller's capability snapshot. An empty featureCode checks the
// app-level flags.
func RequireCapability(appCode, featureCode string, permission rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !principal.Snapshot.Allows(appCode, featureCode, permission) {
				slog.Warn("access denied: missing capability",
					"user_id", principal.UserID,
					"app", appCode,
					"feature", featureCode,
					"permission", permission)
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperTier guards administrative routes behind a level-1 role.
func RequireSuperTier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if principal.Snapshot.Tier != rbac.TierSuper {
			slog.Warn("access denied: super tier required", "user_id", principal.UserID)
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
