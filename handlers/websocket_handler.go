package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/services"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub           *live.Hub
	registrations *services.RegistrationService
	catalog       *services.CatalogService
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

// NewWebSocketHandler: пустой allowedOrigins разрешает любой Origin.
func NewWebSocketHandler(hub *live.Hub, rs *services.RegistrationService, cs *services.CatalogService, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WebSocketHandler{
		hub:           hub,
		registrations: rs,
		catalog:       cs,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeEventWs подписывает клиента на изменения состава и отметки события.
// Клиент подключается к /ws/events/{eventID}
func (h *WebSocketHandler) ServeEventWs(w http.ResponseWriter, r *http.Request) {
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if _, err := h.registrations.GetEvent(r.Context(), eventID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.serve(w, r, live.EventRoom(eventID))
}

// ServeSeasonWs - подписка на обновления зачёта сезона, /ws/seasons/{seasonID}
func (h *WebSocketHandler) ServeSeasonWs(w http.ResponseWriter, r *http.Request) {
	seasonID, err := getIDFromURL(r, "seasonID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if _, err := h.catalog.GetSeason(r.Context(), seasonID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.serve(w, r, live.SeasonRoom(seasonID))
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, roomID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам отвечает клиенту ошибкой.
		h.logger.Warn("websocket upgrade failed", slog.String("room", roomID), slog.Any("error", err))
		return
	}

	client := &live.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: roomID,
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	h.logger.Debug("websocket client registered", slog.String("room", roomID))
}
