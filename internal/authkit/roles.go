package authkit

import "fmt"

// Role is the coarse capability tier attached to every user.
type Role string

const (
	// RoleFree is assigned to every newly created user.
	RoleFree Role = "FREE"
	// RolePremium unlocks paid features.
	RolePremium Role = "PREMIUM"
	// RoleAdmin unlocks user management.
	RoleAdmin Role = "ADMIN"
)

// ParseRole validates a raw role value against the known tiers.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleFree, RolePremium, RoleAdmin:
		return Role(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

// Valid reports whether the role is one of the known tiers.
func (role Role) Valid() bool {
	_, err := ParseRole(string(role))
	return err == nil
}
