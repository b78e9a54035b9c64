package userstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mprlab/accountd/internal/authkit"
)

// MemoryUserStore is an in-memory store intended for tests and dev runs.
type MemoryUserStore struct {
	mutex      sync.Mutex
	byID       map[string]*authkit.User
	byEmail    map[string]string
	byGoogleID map[string]string
	now        func() time.Time
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[string]*authkit.User),
		byEmail:    make(map[string]string),
		byGoogleID: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new user, assigning an id and timestamps.
func (store *MemoryUserStore) Create(ctx context.Context, user *authkit.User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.byEmail[user.Email]; exists {
		return fmt.Errorf("user_store.create: %w", authkit.ErrDuplicateEmail)
	}
	if user.GoogleID != "" {
		if _, exists := store.byGoogleID[user.GoogleID]; exists {
			return fmt.Errorf("user_store.create: %w", authkit.ErrDuplicateGoogleID)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := store.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	record := *user
	store.byID[record.ID] = &record
	store.byEmail[record.Email] = record.ID
	if record.GoogleID != "" {
		store.byGoogleID[record.GoogleID] = record.ID
	}
	return nil
}

// FindByID returns a copy of the user with the given id.
func (store *MemoryUserStore) FindByID(ctx context.Context, userID string) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.cloneLocked(userID)
}

// FindByEmail returns a copy of the user with the given email.
func (store *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	userID, ok := store.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user_store.find_by_email: %w", authkit.ErrUserNotFound)
	}
	return store.cloneLocked(userID)
}

// FindByGoogleID returns a copy of the user with the given external id.
func (store *MemoryUserStore) FindByGoogleID(ctx context.Context, googleID string) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	userID, ok := store.byGoogleID[googleID]
	if !ok {
		return nil, fmt.Errorf("user_store.find_by_google_id: %w", authkit.ErrUserNotFound)
	}
	return store.cloneLocked(userID)
}

// Update persists mutable fields of an existing user.
func (store *MemoryUserStore) Update(ctx context.Context, user *authkit.User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	existing, ok := store.byID[user.ID]
	if !ok {
		return fmt.Errorf("user_store.update: %w", authkit.ErrUserNotFound)
	}
	if user.GoogleID != "" && user.GoogleID != existing.GoogleID {
		if claimedBy, exists := store.byGoogleID[user.GoogleID]; exists && claimedBy != user.ID {
			return fmt.Errorf("user_store.update: %w", authkit.ErrDuplicateGoogleID)
		}
	}

	delete(store.byEmail, existing.Email)
	if existing.GoogleID != "" {
		delete(store.byGoogleID, existing.GoogleID)
	}

	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = store.now()
	record := *user
	// The refresh token only moves through SetRefreshToken and SwapRefreshToken.
	record.RefreshToken = existing.RefreshToken
	store.byID[record.ID] = &record
	store.byEmail[record.Email] = record.ID
	if record.GoogleID != "" {
		store.byGoogleID[record.GoogleID] = record.ID
	}
	return nil
}

// SetRefreshToken unconditionally overwrites the stored refresh token.
func (store *MemoryUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return fmt.Errorf("user_store.set_refresh_token: %w", authkit.ErrUserNotFound)
	}
	record.RefreshToken = refreshToken
	record.UpdatedAt = store.now()
	return nil
}

// SwapRefreshToken overwrites the stored refresh token only while it still
// equals previousToken, and reports whether the swap happened.
func (store *MemoryUserStore) SwapRefreshToken(ctx context.Context, userID string, previousToken string, nextToken string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return false, fmt.Errorf("user_store.swap_refresh_token: %w", authkit.ErrUserNotFound)
	}
	if record.RefreshToken != previousToken {
		return false, nil
	}
	record.RefreshToken = nextToken
	record.UpdatedAt = store.now()
	return true, nil
}

// ListUsers returns copies of all users ordered by creation time.
func (store *MemoryUserStore) ListUsers(ctx context.Context) ([]authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]authkit.User, 0, len(store.byID))
	for _, record := range store.byID {
		users = append(users, *record)
	}
	sort.Slice(users, func(left, right int) bool {
		if users[left].CreatedAt.Equal(users[right].CreatedAt) {
			return users[left].ID < users[right].ID
		}
		return users[left].CreatedAt.Before(users[right].CreatedAt)
	})
	return users, nil
}

// ListUsersWithRefreshToken returns copies of all users holding a refresh token.
func (store *MemoryUserStore) ListUsersWithRefreshToken(ctx context.Context) ([]authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]authkit.User, 0)
	for _, record := range store.byID {
		if record.RefreshToken != "" {
			users = append(users, *record)
		}
	}
	sort.Slice(users, func(left, right int) bool {
		return users[left].ID < users[right].ID
	})
	return users, nil
}

func (store *MemoryUserStore) cloneLocked(userID string) (*authkit.User, error) {
	record, ok := store.byID[userID]
	if !ok {
		return nil, fmt.Errorf("user_store.find_by_id: %w", authkit.ErrUserNotFound)
	}
	clone := *record
	return &clone, nil
}
