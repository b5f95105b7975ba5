package middleware

import (
	"net/http"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/pkg/logger"
)

// PrincipalLogContext pushes the verified caller's ids into the log context.
// Chain it after the token verification middleware so every downstream log
// line carries user and session.
func PrincipalLogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if userID := internal.UserIDFromContext(ctx); userID != "" {
			ctx = logger.With(ctx, "userID", userID)
		}
		if sessionID := internal.SessionIDFromContext(ctx); sessionID != "" {
			ctx = logger.With(ctx, "sessionID", sessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
