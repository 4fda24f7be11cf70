package models

import "time"

type RegistrationStatus string

const (
	RegistrationGoing    RegistrationStatus = "going"
	RegistrationWaitlist RegistrationStatus = "waitlist"
	RegistrationCanceled RegistrationStatus = "canceled"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationGoing, RegistrationWaitlist, RegistrationCanceled:
		return true
	}
	return false
}

// Registration - заявка пользователя на участие в событии.
// Для пары (event, user) допускается не более одной активной (не canceled) заявки.
type Registration struct {
	ID        int                `json:"id" db:"id"`
	EventID   int                `json:"event_id" db:"event_id"`
	UserID    int                `json:"user_id" db:"user_id"`
	Status    RegistrationStatus `json:"status" db:"status"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

func (r *Registration) Active() bool {
	return r != nil && r.Status != RegistrationCanceled
}

// WaitlistBefore orders registrations FIFO by creation time, id breaking ties.
func WaitlistBefore(a, b *Registration) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
