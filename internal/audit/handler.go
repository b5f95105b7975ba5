package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/access-management/internal/transport"
	"github.com/frahmantamala/access-management/pkg/logger"
	"github.com/go-chi/chi"
)

type Handler struct {
	*transport.BaseHandler
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// History lists audit entries for one entity, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")
	if entityType == "" || entityID == "" {
		h.WriteError(w, http.StatusBadRequest, "invalid entity reference")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.Service.History(r.Context(), entityType, entityID, limit)
	if err != nil {
		h.Logger.Error("audit history failed", "entity_type", entityType, "entity_id", entityID, "error", err)
		h.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.WriteJSON(w, http.StatusOK, entries)
}
