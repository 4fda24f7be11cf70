package handlers

import (
	"net/http"

	"github.com/Dosada05/club-engine/repositories"
	"github.com/Dosada05/club-engine/services"
)

type AuditHandler struct {
	catalog *services.CatalogService
}

func NewAuditHandler(cs *services.CatalogService) *AuditHandler {
	return &AuditHandler{catalog: cs}
}

// ListAudit godoc
// @Summary Журнал изменений
// @Tags audit
// @Produce json
// @Param entity_type query string false "Тип сущности"
// @Param entity_id query int false "ID сущности"
// @Param actor_id query int false "ID автора изменения"
// @Param limit query int false "Лимит (по умолчанию 100, максимум 1000)"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filter := repositories.AuditFilter{EntityType: r.URL.Query().Get("entity_type")}

	var err error
	if filter.EntityID, err = optionalIntQuery(r, "entity_id"); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if filter.ActorID, err = optionalIntQuery(r, "actor_id"); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	limit, err := optionalIntQuery(r, "limit")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if limit != nil {
		filter.Limit = *limit
	}

	entries, err := h.catalog.ListAudit(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"entries": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
