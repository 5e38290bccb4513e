package domain

import (
	"strings"
	"time"
)

// Role is a user's clinic role
type Role string

const (
	RoleDoctor     Role = "DOCTOR"
	RolePharmacist Role = "PHARMACIST"
	RoleAdmin      Role = "ADMIN"
)

// ParseRole normalizes a role string
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleDoctor, RolePharmacist, RoleAdmin:
		return r, nil
	}
	return "", Invalid("role", "unknown role %q", s)
}

// User is a clinic staff account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Actor is an already-authenticated caller. Components receive it
// explicitly and trust it; authentication happens in middleware.
type Actor struct {
	UserID string
	Name   string
	Role   Role
}

// HasRole reports whether the actor holds any of roles
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
