// Package models - user.go defines the User model for platform participants with email,
// display name, and the role/status pair that drives the lifecycle state machine.
package models

import "time"

// Role classifies a participant's access level. The set is closed: anything
// outside it is rejected server-side as a validation error rather than stored
// as a free-form string.
type Role string

const (
	RoleDonor     Role = "donor"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RoleVolunteer, RoleAdmin:
		return true
	}
	return false
}

// Status is a participant's activation state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the recognised statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive:
		return true
	}
	return false
}

// User represents a registered participant (donor, volunteer, or admin).
// Exactly one record exists per distinct email; the store enforces this with
// a unique index. Records are created once and mutated in place; they are
// never deleted.
type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"displayName" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// IsActive returns true when the participant may act on the platform.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}
