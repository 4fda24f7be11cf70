package models

import "time"

// EventStatus - статус события. Хранимые значения draft/scheduled задаются организатором,
// остальные являются явными переопределениями.
type EventStatus string

const (
	EventDraft      EventStatus = "draft"
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventCancelled  EventStatus = "cancelled"
	EventPostponed  EventStatus = "postponed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventScheduled, EventInProgress, EventCompleted, EventCancelled, EventPostponed:
		return true
	}
	return false
}

// Event представляет клубное соревнование (этап, гонку, тренировочный день).
type Event struct {
	ID              int         `json:"id" db:"id"`
	Slug            string      `json:"slug" db:"slug"`
	Title           string      `json:"title" db:"title"`
	StartsAt        time.Time   `json:"starts_at" db:"starts_at"`
	EndsAt          *time.Time  `json:"ends_at,omitempty" db:"ends_at"`
	Capacity        *int        `json:"capacity,omitempty" db:"capacity"` // nil = без ограничений
	WaitlistEnabled bool        `json:"waitlist_enabled" db:"waitlist_enabled"`
	Status          EventStatus `json:"status" db:"status"`
	CreatedBy       int         `json:"created_by" db:"created_by"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`

	EffectiveStatus EventStatus `json:"effective_status" db:"-"`
}

// EffectiveStatusAt вычисляет статус на момент now. Значение, полученное из времени,
// никогда не сохраняется в БД.
func (e *Event) EffectiveStatusAt(now time.Time) EventStatus {
	if e.Status != EventScheduled {
		return e.Status
	}
	now = now.UTC()
	if now.Before(e.StartsAt) {
		return EventScheduled
	}
	if e.EndsAt != nil && !now.Before(*e.EndsAt) {
		return EventCompleted
	}
	return EventInProgress
}

// OpenForRegistration reports whether RSVPs are accepted at now.
func (e *Event) OpenForRegistration(now time.Time) bool {
	switch e.EffectiveStatusAt(now) {
	case EventScheduled, EventInProgress, EventPostponed:
		return true
	}
	return false
}

// HasCapacityFor reports whether one more going registration fits.
func (e *Event) HasCapacityFor(going int) bool {
	return e.Capacity == nil || going < *e.Capacity
}

// EventRoster - сводка по заполненности события.
type EventRoster struct {
	EventID        int  `json:"event_id"`
	Capacity       *int `json:"capacity,omitempty"`
	Going          int  `json:"going"`
	Waitlist       int  `json:"waitlist"`
	CheckedIn      int  `json:"checked_in"`
	RemainingSlots *int `json:"remaining_slots,omitempty"`
}
