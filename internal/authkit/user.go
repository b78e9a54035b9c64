package authkit

import (
	"context"
	"time"
)

// User is the persisted account record. GoogleID is empty until the account
// is created or linked through the OAuth bridge. RefreshToken holds the one
// currently valid rotating refresh token; empty means logged out.
type User struct {
	ID            string
	Email         string
	GoogleID      string
	DisplayName   string
	AvatarURL     string
	StatusMessage string
	Role          Role
	IsBanned      bool
	RefreshToken  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicUser is the projection safe to hand to clients. It never carries the
// stored refresh token or the ban flag.
type PublicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Role          Role   `json:"role"`
}

// Public returns the client-safe projection of the user.
func (user *User) Public() PublicUser {
	return PublicUser{
		ID:            user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		StatusMessage: user.StatusMessage,
		Role:          user.Role,
	}
}

// UserStore persists and retrieves application users.
//
// SwapRefreshToken is the rotation primitive: it overwrites the stored
// refresh token only while it still equals previousToken and reports whether
// a row changed, so two racing rotations produce exactly one winner.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, userID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*User, error)
	Update(ctx context.Context, user *User) error
	SetRefreshToken(ctx context.Context, userID string, refreshToken string) error
	SwapRefreshToken(ctx context.Context, userID string, previousToken string, nextToken string) (bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersWithRefreshToken(ctx context.Context) ([]User, error)
}
