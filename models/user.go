package models

// UserRole - роль пользователя, выданная провайдером идентификации.
type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RoleStaff     UserRole = "staff"
	RolePlayer    UserRole = "player"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleOrganizer, RoleStaff, RolePlayer:
		return true
	}
	return false
}
