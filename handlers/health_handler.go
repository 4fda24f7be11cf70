package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Dosada05/club-engine/repositories"
)

type HealthHandler struct {
	store repositories.Store
}

func NewHealthHandler(store repositories.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		errorResponse(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	_ = writeJSON(w, http.StatusOK, jsonResponse{"status": "ok"}, nil)
}
