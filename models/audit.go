package models

import (
	"encoding/json"
	"time"
)

// AuditEntry - запись журнала аудита. Журнал только дополняется.
type AuditEntry struct {
	ID         int             `json:"id" db:"id"`
	ActorID    int             `json:"actor_id" db:"actor_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   int             `json:"entity_id" db:"entity_id"`
	Summary    string          `json:"summary" db:"summary"`
	Before     json.RawMessage `json:"before,omitempty" db:"before"`
	After      json.RawMessage `json:"after,omitempty" db:"after"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Identity is what the identity provider hands to the core for a request.
type Identity struct {
	UserID int      `json:"user_id"`
	Role   UserRole `json:"role"`
}

func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleOrganizer || i.Role == RoleStaff
}
