package authkit

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	for _, value := range []string{"FREE", "PREMIUM", "ADMIN"} {
		role, err := ParseRole(value)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", value, err)
		}
		if string(role) != value {
			t.Fatalf("expected role %q, got %q", value, role)
		}
	}

	for _, value := range []string{"", "free", "Premium", "SUPERUSER", "ADMIN "} {
		if _, err := ParseRole(value); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("expected ErrInvalidRole for %q, got %v", value, err)
		}
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleAdmin.Valid() {
		t.Fatalf("expected ADMIN to be valid")
	}
	if Role("GUEST").Valid() {
		t.Fatalf("expected GUEST to be invalid")
	}
}
