package authkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeUserStore struct {
	mutex  sync.Mutex
	byID   map[string]*User
	nextID int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: make(map[string]*User)}
}

func (store *fakeUserStore) Create(ctx context.Context, user *User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.byID {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
		if user.GoogleID != "" && existing.GoogleID == user.GoogleID {
			return ErrDuplicateGoogleID
		}
	}
	store.nextID++
	user.ID = fmt.Sprintf("user-%d", store.nextID)
	stored := *user
	store.byID[user.ID] = &stored
	return nil
}

func (store *fakeUserStore) FindByID(ctx context.Context, userID string) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (store *fakeUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, user := range store.byID {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (store *fakeUserStore) FindByGoogleID(ctx context.Context, googleID string) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, user := range store.byID {
		if user.GoogleID != "" && user.GoogleID == googleID {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (store *fakeUserStore) Update(ctx context.Context, user *User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.byID[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	updated := *user
	updated.RefreshToken = existing.RefreshToken
	updated.CreatedAt = existing.CreatedAt
	store.byID[user.ID] = &updated
	return nil
}

func (store *fakeUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.RefreshToken = refreshToken
	return nil
}

func (store *fakeUserStore) SwapRefreshToken(ctx context.Context, userID string, previousToken string, nextToken string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.byID[userID]
	if !ok {
		return false, nil
	}
	if user.RefreshToken != previousToken {
		return false, nil
	}
	user.RefreshToken = nextToken
	return true, nil
}

func (store *fakeUserStore) ListUsers(ctx context.Context) ([]User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]User, 0, len(store.byID))
	for _, user := range store.byID {
		users = append(users, *user)
	}
	sort.Slice(users, func(left, right int) bool { return users[left].ID < users[right].ID })
	return users, nil
}

func (store *fakeUserStore) ListUsersWithRefreshToken(ctx context.Context) ([]User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]User, 0, len(store.byID))
	for _, user := range store.byID {
		if user.RefreshToken != "" {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(left, right int) bool { return users[left].ID < users[right].ID })
	return users, nil
}

func (store *fakeUserStore) storedRefreshToken(t *testing.T, userID string) string {
	t.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.byID[userID]
	if !ok {
		t.Fatalf("user %s not found in store", userID)
	}
	return user.RefreshToken
}

func testServerConfig() ServerConfig {
	return ServerConfig{
		GoogleClientID:      "client",
		GoogleClientSecret:  "secret",
		OAuthRedirectURL:    "https://accounts.example.com/auth/google/callback",
		FrontendCallbackURL: "https://app.example.com/auth/callback",
		AccessSigningKey:    []byte("access-test-secret"),
		RefreshSigningKey:   []byte("refresh-test-secret"),
		Issuer:              "accountd",
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          7 * 24 * time.Hour,
		StateTTL:            5 * time.Minute,
	}
}

func seedUser(t *testing.T, store *fakeUserStore, email string, role Role) *User {
	t.Helper()
	user := &User{
		Email:       email,
		GoogleID:    "google-" + email,
		DisplayName: "Seed User",
		Role:        role,
	}
	if err := store.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func TestLoginPersistsRefreshToken(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	pair, loginErr := service.Login(context.Background(), user)
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens to be minted")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("expected distinct access and refresh tokens")
	}
	if pair.User.ID != user.ID || pair.User.Email != user.Email {
		t.Fatalf("expected public user projection, got %+v", pair.User)
	}
	if stored := store.storedRefreshToken(t, user.ID); stored != pair.RefreshToken {
		t.Fatalf("expected refresh token to be persisted on the user row")
	}

	claims, parseErr := ParseToken(clock, pair.AccessToken, "accountd", testServerConfig().AccessSigningKey)
	if parseErr != nil {
		t.Fatalf("expected access token to verify, got %v", parseErr)
	}
	if claims.Subject != user.ID {
		t.Fatalf("expected subject %s, got %s", user.ID, claims.Subject)
	}
}

func TestLoginSupersedesPreviousRefreshToken(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	first, err := service.Login(context.Background(), user)
	if err != nil {
		t.Fatalf("expected first login to succeed, got %v", err)
	}
	clock.Advance(time.Second)
	second, err := service.Login(context.Background(), user)
	if err != nil {
		t.Fatalf("expected second login to succeed, got %v", err)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatalf("expected rotation on re-login")
	}
	if stored := store.storedRefreshToken(t, user.ID); stored != second.RefreshToken {
		t.Fatalf("expected latest refresh token to be stored")
	}

	if _, refreshErr := service.Refresh(context.Background(), first.RefreshToken); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected superseded token to be rejected, got %v", refreshErr)
	}
}

func TestRefreshRotationLifecycle(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	metrics := NewCounterMetrics()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), metrics)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	login, loginErr := service.Login(context.Background(), user)
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	clock.Advance(time.Minute)
	rotated, refreshErr := service.Refresh(context.Background(), login.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("expected refresh to succeed, got %v", refreshErr)
	}
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatalf("expected a new refresh token after rotation")
	}
	if rotated.AccessToken == "" {
		t.Fatalf("expected a new access token after rotation")
	}
	if stored := store.storedRefreshToken(t, user.ID); stored != rotated.RefreshToken {
		t.Fatalf("expected rotated token to be stored")
	}

	// Replaying the consumed token must fail.
	if _, replayErr := service.Refresh(context.Background(), login.RefreshToken); !errors.Is(replayErr, ErrUnauthenticated) {
		t.Fatalf("expected replay to be rejected, got %v", replayErr)
	}

	// The rotated token keeps working.
	clock.Advance(time.Minute)
	next, nextErr := service.Refresh(context.Background(), rotated.RefreshToken)
	if nextErr != nil {
		t.Fatalf("expected rotated token to refresh, got %v", nextErr)
	}
	if next.RefreshToken == rotated.RefreshToken {
		t.Fatalf("expected another rotation")
	}

	snapshot := metrics.Snapshot()
	if snapshot[MetricRefreshSuccess] != 2 {
		t.Fatalf("expected 2 refresh successes, got %d", snapshot[MetricRefreshSuccess])
	}
	if snapshot[MetricRefreshRejected] != 1 {
		t.Fatalf("expected 1 refresh rejection, got %d", snapshot[MetricRefreshRejected])
	}
}

func TestRefreshRejectsForgedToken(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	forged, _, mintErr := MintToken(clock, user.ID, user.Email, "accountd", []byte("attacker-key"), time.Hour)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	if _, refreshErr := service.Refresh(context.Background(), forged); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected forged token to be rejected, got %v", refreshErr)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	login, loginErr := service.Login(context.Background(), user)
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	clock.Advance(testServerConfig().RefreshTTL + time.Hour)

	if _, refreshErr := service.Refresh(context.Background(), login.RefreshToken); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", refreshErr)
	}
}

func TestRefreshRejectsUnknownSubject(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)

	orphan, _, mintErr := MintToken(clock, "missing-user", "ghost@example.com", "accountd", testServerConfig().RefreshSigningKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	if _, refreshErr := service.Refresh(context.Background(), orphan); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected unknown subject to be rejected, got %v", refreshErr)
	}
}

func TestRefreshRejectsBannedUser(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	login, loginErr := service.Login(context.Background(), user)
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	banned, findErr := store.FindByID(context.Background(), user.ID)
	if findErr != nil {
		t.Fatalf("failed to reload user: %v", findErr)
	}
	banned.IsBanned = true
	if updateErr := store.Update(context.Background(), banned); updateErr != nil {
		t.Fatalf("failed to ban user: %v", updateErr)
	}

	clock.Advance(time.Minute)
	if _, refreshErr := service.Refresh(context.Background(), login.RefreshToken); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected banned user refresh to be rejected, got %v", refreshErr)
	}
	if stored := store.storedRefreshToken(t, user.ID); stored != login.RefreshToken {
		t.Fatalf("expected stored token to remain untouched after rejection")
	}
}

func TestLogoutInvalidatesRefreshToken(t *testing.T) {
	store := newFakeUserStore()
	clock := newFixedClock()
	service := NewService(testServerConfig(), store, clock, zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	login, loginErr := service.Login(context.Background(), user)
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	if logoutErr := service.Logout(context.Background(), user.ID); logoutErr != nil {
		t.Fatalf("expected logout to succeed, got %v", logoutErr)
	}
	if stored := store.storedRefreshToken(t, user.ID); stored != "" {
		t.Fatalf("expected stored refresh token to be cleared")
	}

	clock.Advance(time.Minute)
	if _, refreshErr := service.Refresh(context.Background(), login.RefreshToken); !errors.Is(refreshErr, ErrUnauthenticated) {
		t.Fatalf("expected refresh after logout to be rejected, got %v", refreshErr)
	}
}

func TestAssignRoleUpdatesUser(t *testing.T) {
	store := newFakeUserStore()
	service := NewService(testServerConfig(), store, newFixedClock(), zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	updated, assignErr := service.AssignRole(context.Background(), user.ID, RolePremium)
	if assignErr != nil {
		t.Fatalf("expected role assignment to succeed, got %v", assignErr)
	}
	if updated.Role != RolePremium {
		t.Fatalf("expected PREMIUM role, got %s", updated.Role)
	}

	reloaded, findErr := store.FindByID(context.Background(), user.ID)
	if findErr != nil {
		t.Fatalf("failed to reload user: %v", findErr)
	}
	if reloaded.Role != RolePremium {
		t.Fatalf("expected persisted PREMIUM role, got %s", reloaded.Role)
	}
}

func TestAssignRoleRejectsUnknownRole(t *testing.T) {
	store := newFakeUserStore()
	service := NewService(testServerConfig(), store, newFixedClock(), zaptest.NewLogger(t), nil)
	user := seedUser(t, store, "alice@example.com", RoleFree)

	if _, assignErr := service.AssignRole(context.Background(), user.ID, Role("SUPERUSER")); !errors.Is(assignErr, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", assignErr)
	}
}

func TestAssignRoleUnknownUser(t *testing.T) {
	store := newFakeUserStore()
	service := NewService(testServerConfig(), store, newFixedClock(), zaptest.NewLogger(t), nil)

	if _, assignErr := service.AssignRole(context.Background(), "missing", RoleAdmin); !errors.Is(assignErr, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", assignErr)
	}
}
