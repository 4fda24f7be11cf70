package models

import "time"

type CheckInMethod string

const (
	CheckInQR    CheckInMethod = "qr"
	CheckInStaff CheckInMethod = "staff"
)

func (m CheckInMethod) Valid() bool {
	return m == CheckInQR || m == CheckInStaff
}

// CheckIn фиксирует фактическое прибытие участника на событие.
type CheckIn struct {
	ID           int           `json:"id" db:"id"`
	EventID      int           `json:"event_id" db:"event_id"`
	UserID       int           `json:"user_id" db:"user_id"`
	Method       CheckInMethod `json:"method" db:"method"`
	ActorID      int           `json:"actor_id" db:"actor_id"`
	WalkIn       bool          `json:"walk_in" db:"walk_in"`
	OverCapacity bool          `json:"over_capacity" db:"over_capacity"`
	CheckedInAt  time.Time     `json:"checked_in_at" db:"checked_in_at"`
}
