package rbac

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/access-management/internal/transport"
	"github.com/frahmantamala/access-management/pkg/logger"
	"github.com/go-chi/chi"
)

// ActorFunc extracts the administrative Actor from an authenticated request.
// Wired at router construction so this package stays independent of the auth
// transport.
type ActorFunc func(r *http.Request) (Actor, bool)

type Handler struct {
	*transport.BaseHandler
	Service  ServiceAPI
	actorFor ActorFunc
}

func NewHandler(svc ServiceAPI, actorFor ActorFunc) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		actorFor:    actorFor,
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := h.actorFor(r)
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return Actor{}, false
	}
	return actor, true
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto CreateRoleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.Service.CreateRole(r.Context(), dto, actor)
	if err != nil {
		h.Logger.Error("create role failed", "code", dto.Code, "error", err)
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, role)
}

func (h *Handler) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid role id")
		return
	}

	if err := h.Service.DeactivateRole(r.Context(), roleID, actor); err != nil {
		h.Logger.Error("deactivate role failed", "role_id", roleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid role id")
		return
	}

	if err := h.Service.DeleteRole(r.Context(), roleID, actor); err != nil {
		h.Logger.Error("delete role failed", "role_id", roleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddHierarchyEdge(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto HierarchyEdgeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.AddHierarchyEdge(r.Context(), dto, actor); err != nil {
		h.Logger.Error("add hierarchy edge failed",
			"parent_role_id", dto.ParentRoleID,
			"child_role_id", dto.ChildRoleID,
			"error", err,
		)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) MapRoleToApp(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto AppMappingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.MapRoleToApp(r.Context(), dto, actor); err != nil {
		h.Logger.Error("map role to app failed", "role_id", dto.RoleID, "app_id", dto.AppID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MapRoleToFeature(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto FeatureMappingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.MapRoleToFeature(r.Context(), dto, actor); err != nil {
		h.Logger.Error("map role to feature failed", "role_id", dto.RoleID, "feature_id", dto.FeatureID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BulkMapApps(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto BulkAppMappingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.BulkMapApps(r.Context(), dto, actor); err != nil {
		h.Logger.Error("bulk map apps failed", "role_id", dto.RoleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BulkMapFeatures(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto BulkFeatureMappingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.BulkMapFeatures(r.Context(), dto, actor); err != nil {
		h.Logger.Error("bulk map features failed", "role_id", dto.RoleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto AssignRoleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.AssignRole(r.Context(), dto, actor); err != nil {
		h.Logger.Error("assign role failed", "user_id", dto.UserID, "role_id", dto.RoleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userID")
	roleID, err := pathID(r, "roleID")
	if err != nil || userID == "" {
		h.WriteError(w, http.StatusBadRequest, "invalid user or role id")
		return
	}

	if err := h.Service.RevokeRole(r.Context(), userID, roleID, actor); err != nil {
		h.Logger.Error("revoke role failed", "user_id", userID, "role_id", roleID, "error", err)
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
