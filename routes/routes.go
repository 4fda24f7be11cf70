package routes

import (
	"net/http"

	"github.com/Dosada05/club-engine/handlers"
	"github.com/Dosada05/club-engine/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/Dosada05/club-engine/docs"
)

type Handlers struct {
	Events     *handlers.EventHandler
	Attendance *handlers.AttendanceHandler
	Results    *handlers.ResultHandler
	Seasons    *handlers.SeasonHandler
	Audit      *handlers.AuditHandler
	WebSocket  *handlers.WebSocketHandler
	Health     *handlers.HealthHandler
}

func SetupRoutes(router chi.Router, h Handlers, jwtSecret string, allowedOrigins []string) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", h.Health.Health)
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// WebSocket подписки открыты для чтения без токена.
	router.Route("/ws", func(r chi.Router) {
		r.Get("/events/{eventID}", h.WebSocket.ServeEventWs)
		r.Get("/seasons/{seasonID}", h.WebSocket.ServeSeasonWs)
	})

	authenticate := middleware.Authenticate(jwtSecret)

	router.Route("/events", func(r chi.Router) {
		r.With(authenticate, middleware.RequireStaff).Post("/", h.Events.CreateEvent)

		r.Route("/{eventID}", func(r chi.Router) {
			r.Get("/", h.Events.GetEvent)
			r.Get("/roster", h.Events.GetRoster)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)

				r.Post("/rsvp", h.Events.RequestRSVP)
				r.Post("/checkins", h.Attendance.CheckIn)
				r.Post("/checkins/qr", h.Attendance.CheckInWithQR)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireStaff)

					r.Patch("/status", h.Events.UpdateEventStatus)
					r.Get("/registrations", h.Events.ListRegistrations)
					r.Patch("/registrations/{userID}", h.Events.MoveRegistration)
					r.Get("/checkins", h.Attendance.ListCheckIns)
					r.Get("/checkins/qr-token", h.Attendance.GetQRToken)
					r.Post("/sessions", h.Seasons.CreateSession)
				})
			})
		})
	})

	router.Route("/seasons", func(r chi.Router) {
		r.With(authenticate, middleware.RequireStaff).Post("/", h.Seasons.CreateSeason)

		r.Route("/{seasonID}", func(r chi.Router) {
			r.Get("/", h.Seasons.GetSeason)
			r.Get("/standings", h.Seasons.GetStandings)
			r.Get("/entries", h.Seasons.ListSeasonEntries)
			r.With(authenticate, middleware.RequireStaff).Post("/entries", h.Seasons.CreateSeasonEntry)
		})
	})

	router.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Seasons.GetSession)
		r.Get("/results", h.Results.ListResults)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequireStaff)

			r.Post("/results/upload", h.Results.UploadResults)
			r.Post("/results/import-sheet", h.Results.ImportSheet)
			r.Put("/results/{entrantID}", h.Results.UpsertResult)
			r.Post("/finalize", h.Results.FinalizeSession)
			r.Post("/reopen", h.Results.ReopenSession)
		})
	})

	router.Route("/provenance", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireStaff)

		r.Post("/", h.Results.RecordProvenance)
		r.Get("/{provenanceID}", h.Results.GetProvenance)
		r.Post("/{provenanceID}/artifacts", h.Results.AttachArtifact)
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireStaff)

		r.Post("/results/batch", h.Results.UpsertResultsBatch)
		r.Get("/audit", h.Audit.ListAudit)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"the requested resource could not be found"}`))
	})
}
