package routes

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/cache"
	"github.com/Dosada05/club-engine/handlers"
	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/repositories"
	"github.com/Dosada05/club-engine/services"
	"github.com/go-chi/chi/v5"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repositories.NewMemoryStore()
	hub := live.NewHub(logger)
	audit := services.NewSafeAuditor(services.NewStoreAuditRecorder(store.Audit()), logger)
	registrations := services.NewRegistrationService(store, audit, hub, logger, 3)
	attendance := services.NewAttendanceService(store, audit, hub, logger, "secret", 3)
	standings := services.NewStandingsService(store, cache.NewMemoryStandingsCache(time.Minute), hub, nil, logger)
	catalog := services.NewCatalogService(store, audit, logger)
	ingestion := services.NewIngestionService(store, audit, nil, nil, standings, hub, logger)

	router := chi.NewRouter()
	SetupRoutes(router, Handlers{
		Events:     handlers.NewEventHandler(registrations, catalog),
		Attendance: handlers.NewAttendanceHandler(attendance),
		Results:    handlers.NewResultHandler(ingestion, catalog),
		Seasons:    handlers.NewSeasonHandler(catalog, standings),
		Audit:      handlers.NewAuditHandler(catalog),
		WebSocket:  handlers.NewWebSocketHandler(hub, registrations, catalog, nil, logger),
		Health:     handlers.NewHealthHandler(store),
	}, "secret", []string{"*"})
	return router
}

func TestRoutes(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/events/1", http.StatusNotFound},
		{http.MethodGet, "/seasons/1/standings", http.StatusNotFound},
		{http.MethodPost, "/events/1/rsvp", http.StatusUnauthorized},
		{http.MethodPost, "/results/batch", http.StatusUnauthorized},
		{http.MethodGet, "/audit", http.StatusUnauthorized},
		{http.MethodPost, "/sessions/1/finalize", http.StatusUnauthorized},
		{http.MethodGet, "/ws/events/1", http.StatusNotFound},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
