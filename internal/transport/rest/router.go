package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/access-management/internal/audit"
	"github.com/frahmantamala/access-management/internal/auth"
	"github.com/frahmantamala/access-management/internal/rbac"
	"github.com/frahmantamala/access-management/internal/transport/middleware"
	"github.com/frahmantamala/access-management/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// AccessControlAppCode is the app code that gates the administrative API
// itself. Seeded with the system roles.
const AccessControlAppCode = "ACCESS_CONTROL"

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, rbacHandler *rbac.Handler, auditHandler *audit.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Auth routes
		if authHandler != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", authHandler.Login)
				sr.Post("/refresh", authHandler.RefreshToken)

				sr.Group(func(pr chi.Router) {
					pr.Use(authHandler.AuthMiddleware)
					pr.Use(middleware.PrincipalLogContext)
					pr.Post("/logout", authHandler.Logout)
				})
			})

			// Protected routes that require authentication
			r.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)
				pr.Use(middleware.PrincipalLogContext)

				pr.Get("/sessions/current", authHandler.CurrentSession)
				pr.Get("/users/me/permissions", authHandler.MyPermissions)

				// Administrative surface, gated per-verb on the access
				// control app itself. Level-1 roles pass every check.
				if rbacHandler != nil {
					pr.Route("/admin", func(ar chi.Router) {
						ar.Group(func(cr chi.Router) {
							cr.Use(middleware.RequireCapability(AccessControlAppCode, "", rbac.PermissionCreate))
							cr.Post("/roles", rbacHandler.CreateRole)
							cr.Post("/hierarchy", rbacHandler.AddHierarchyEdge)
							cr.Post("/assignments", rbacHandler.AssignRole)
						})

						ar.Group(func(ur chi.Router) {
							ur.Use(middleware.RequireCapability(AccessControlAppCode, "", rbac.PermissionUpdate))
							ur.Patch("/roles/{roleID}/deactivate", rbacHandler.DeactivateRole)
							ur.Put("/mappings/apps", rbacHandler.MapRoleToApp)
							ur.Put("/mappings/features", rbacHandler.MapRoleToFeature)
							ur.Put("/mappings/apps/bulk", rbacHandler.BulkMapApps)
							ur.Put("/mappings/features/bulk", rbacHandler.BulkMapFeatures)
						})

						ar.Group(func(dr chi.Router) {
							dr.Use(middleware.RequireCapability(AccessControlAppCode, "", rbac.PermissionDelete))
							dr.Delete("/roles/{roleID}", rbacHandler.DeleteRole)
							dr.Delete("/assignments/{userID}/{roleID}", rbacHandler.RevokeRole)
						})

						// Unblock and audit history stay super-only.
						ar.Group(func(sr chi.Router) {
							sr.Use(middleware.RequireSuperTier)
							sr.Post("/accounts/{userID}/unblock", authHandler.UnblockAccount)
							if auditHandler != nil {
								sr.Get("/audit/{entityType}/{entityID}", auditHandler.History)
							}
						})
					})
				}
			})
		}
	})
}
