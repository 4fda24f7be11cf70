package services

import (
	"time"

	"github.com/Dosada05/club-engine/live"
)

// Broadcaster рассылает изменения подписчикам. Реализуется live.Hub.
type Broadcaster interface {
	BroadcastToRoom(roomID string, message interface{})
}

func broadcast(b Broadcaster, room, msgType string, payload interface{}) {
	if b == nil {
		return
	}
	b.BroadcastToRoom(room, live.WebSocketMessage{Type: msgType, Payload: payload, RoomID: room})
}

// Clock возвращает текущее время; подменяется в тестах.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
