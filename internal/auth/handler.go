package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/rbac"
	"github.com/frahmantamala/access-management/internal/transport"
	"github.com/frahmantamala/access-management/pkg/logger"
	"github.com/go-chi/chi"
)

type contextKey string

// ContextPrincipalKey holds the verified *Principal for the request.
const ContextPrincipalKey contextKey = "principal"

type Handler struct {
	*transport.BaseHandler
	Service  ServiceAPI
	Resolver rbac.ResolverAPI
}

func NewHandler(svc ServiceAPI, resolver rbac.ResolverAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		Resolver:    resolver,
	}
}

// PrincipalFromContext returns the verified caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(ContextPrincipalKey).(*Principal)
	return principal, ok
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Service.Login(r.Context(), dto, MetaFromRequest(r))
	if err != nil {
		if _, ok := err.(ValidationError); ok {
			h.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error("login failed", "error", err)
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := h.Service.Refresh(r.Context(), dto.RefreshToken, MetaFromRequest(r))
	if err != nil {
		h.Logger.Error("token refresh failed", "error", err)
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var dto LogoutDTO
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := h.Service.Logout(r.Context(), principal.SessionID, dto.All, MetaFromRequest(r)); err != nil {
		h.Logger.Error("logout failed", "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CurrentSession returns the caller's session row for introspection.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	info, err := h.Service.CurrentSession(r.Context(), principal.SessionID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, info)
}

// MyPermissions re-resolves the caller's capabilities from the database,
// bypassing the snapshot frozen into the access token. Lets clients pick up
// role changes without a fresh login.
func (h *Handler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	snapshot, err := h.Resolver.Snapshot(r.Context(), principal.UserID)
	if err != nil {
		h.Logger.Error("permission resolve failed", "user_id", principal.UserID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, snapshot)
}

// AuthMiddleware verifies the bearer token and attaches the Principal to the
// request context. Rejections do not reveal whether the token or the session
// was at fault beyond the error code.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		principal, err := h.Service.VerifyAccess(r.Context(), token)
		if err != nil {
			h.Logger.Warn("token verification failed", "error", err)
			h.WriteAppError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ContextPrincipalKey, principal)
		ctx = internal.ContextWithUserID(ctx, principal.UserID)
		ctx = internal.ContextWithSessionID(ctx, principal.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UnblockAccount clears a terminal lockout block for the named user.
func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.Service.UnblockAccount(r.Context(), userID, MetaFromRequest(r), principal.UserID); err != nil {
		h.Logger.Error("unblock failed", "user_id", userID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MetaFromRequest extracts transport metadata for auth flows.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		IPAddress:  clientIP(r),
		DeviceInfo: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
