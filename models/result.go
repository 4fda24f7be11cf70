package models

import (
	"encoding/json"
	"time"
)

type FinishStatus string

const (
	FinishFinished FinishStatus = "finished"
	FinishDNF      FinishStatus = "dnf"
	FinishDSQ      FinishStatus = "dsq"
	FinishDNS      FinishStatus = "dns"
	FinishNC       FinishStatus = "nc"
)

func (s FinishStatus) Valid() bool {
	switch s {
	case FinishFinished, FinishDNF, FinishDSQ, FinishDNS, FinishNC:
		return true
	}
	return false
}

// Result - итог одного участника в одной сессии. Уникален по (session_id, entrant_id).
type Result struct {
	ID            int             `json:"id" db:"id"`
	SessionID     int             `json:"session_id" db:"session_id"`
	EntrantID     int             `json:"entrant_id" db:"entrant_id"`
	Position      *int            `json:"position,omitempty" db:"position"` // nil = не классифицирован
	Points        *int            `json:"points,omitempty" db:"points"`     // ручное переопределение
	BestLapMs     *int64          `json:"best_lap_ms,omitempty" db:"best_lap_ms"`
	TotalTimeMs   *int64          `json:"total_time_ms,omitempty" db:"total_time_ms"`
	LapsCompleted *int            `json:"laps_completed,omitempty" db:"laps_completed"`
	Status        FinishStatus    `json:"status" db:"status"`
	Penalties     json.RawMessage `json:"penalties,omitempty" db:"penalties"`
	ProvenanceID  *int            `json:"provenance_id,omitempty" db:"provenance_id"`
	UpdatedBy     int             `json:"updated_by" db:"updated_by"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
