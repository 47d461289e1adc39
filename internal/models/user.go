package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// Capability is a fine-grained permission derived from a role. Services never
// consult ambient session state; an Actor carrying its capabilities is passed
// into every call.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityEdit    Capability = "edit"
	CapabilityEditAll Capability = "editall"
)

// RoleCapabilities maps each role onto the capabilities it grants.
var RoleCapabilities = map[UserRole][]Capability{
	RoleSuperAdmin: {CapabilityView, CapabilityEdit, CapabilityEditAll},
	RoleAdmin:      {CapabilityView, CapabilityEdit, CapabilityEditAll},
	RoleTeacher:    {CapabilityView, CapabilityEdit},
	RoleStudent:    {CapabilityView},
}

// Actor identifies the user performing an operation together with the
// capabilities resolved for them at authentication time.
type Actor struct {
	ID           string
	Role         UserRole
	Capabilities []Capability
}

// NewActor resolves capabilities for the given role.
func NewActor(id string, role UserRole) Actor {
	caps := RoleCapabilities[role]
	return Actor{ID: id, Role: role, Capabilities: append([]Capability(nil), caps...)}
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(cap Capability) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
