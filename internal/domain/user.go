package domain

import (
	"strings"
	"time"
)

// Role enumerates the privilege levels a user account can hold.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
	RoleGuest   Role = "GUEST"
)

// Roles lists every supported role.
var Roles = []Role{RoleAdmin, RoleManager, RoleUser, RoleGuest}

// ParseRole converts a case-insensitive role name into a Role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range Roles {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// User is the domain model for a managed account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStats summarises account counts.
type UserStats struct {
	Total  int64
	Active int64
	ByRole map[Role]int64
}
