package models

import "time"

type SessionKind string

const (
	SessionPractice   SessionKind = "practice"
	SessionQualifying SessionKind = "qualifying"
	SessionRace       SessionKind = "race"
	SessionSprint     SessionKind = "sprint"
)

func (k SessionKind) Valid() bool {
	switch k {
	case SessionPractice, SessionQualifying, SessionRace, SessionSprint:
		return true
	}
	return false
}

// Session - зачётная часть события (квалификация, гонка).
type Session struct {
	ID          int         `json:"id" db:"id"`
	EventID     int         `json:"event_id" db:"event_id"`
	SeasonID    *int        `json:"season_id,omitempty" db:"season_id"`
	Kind        SessionKind `json:"kind" db:"kind"`
	Name        string      `json:"name" db:"name"`
	Scored      bool        `json:"scored" db:"scored"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty" db:"finalized_at"`
}

func (s *Session) Finalized() bool {
	return s.FinalizedAt != nil
}

// CountsForStandings reports whether results of the session feed the season table.
func (s *Session) CountsForStandings() bool {
	return s.SeasonID != nil && s.Scored && s.Finalized()
}
