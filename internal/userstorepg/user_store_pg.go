package userstorepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mprlab/accountd/internal/authkit"
)

// PostgresUserStore persists users in PostgreSQL with raw SQL.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const userColumns = `id, email, google_id, display_name, avatar_url, status_message, role, is_banned, refresh_token, created_at, updated_at`

// Create inserts a new user row, assigning an id when absent.
func (store *PostgresUserStore) Create(ctx context.Context, user *authkit.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO users (id, email, google_id, display_name, avatar_url, status_message, role, is_banned, refresh_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, user.ID, user.Email, nullableGoogleID(user.GoogleID), user.DisplayName, user.AvatarURL, user.StatusMessage, string(user.Role), user.IsBanned, user.RefreshToken, now, now)
	if execErr != nil {
		return fmt.Errorf("user_store.create.postgres: %w", execErr)
	}
	return nil
}

// FindByID loads a user by primary key.
func (store *PostgresUserStore) FindByID(ctx context.Context, userID string) (*authkit.User, error) {
	return store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// FindByEmail loads a user by email.
func (store *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*authkit.User, error) {
	return store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByGoogleID loads a user by external id.
func (store *PostgresUserStore) FindByGoogleID(ctx context.Context, googleID string) (*authkit.User, error) {
	return store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

// Update saves mutable fields of an existing user row.
func (store *PostgresUserStore) Update(ctx context.Context, user *authkit.User) error {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE users
SET email = $1, google_id = $2, display_name = $3, avatar_url = $4, status_message = $5, role = $6, is_banned = $7, updated_at = now()
WHERE id = $8
`, user.Email, nullableGoogleID(user.GoogleID), user.DisplayName, user.AvatarURL, user.StatusMessage, string(user.Role), user.IsBanned, user.ID)
	if execErr != nil {
		return fmt.Errorf("user_store.update.postgres: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user_store.update.postgres: %w", authkit.ErrUserNotFound)
	}
	return nil
}

// SetRefreshToken unconditionally overwrites the stored refresh token.
func (store *PostgresUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE users SET refresh_token = $1, updated_at = now() WHERE id = $2
`, refreshToken, userID)
	if execErr != nil {
		return fmt.Errorf("user_store.set_refresh_token.postgres: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user_store.set_refresh_token.postgres: %w", authkit.ErrUserNotFound)
	}
	return nil
}

// SwapRefreshToken performs the conditional rotation write; the predicate on
// the previous token makes concurrent rotations race to a single winner.
func (store *PostgresUserStore) SwapRefreshToken(ctx context.Context, userID string, previousToken string, nextToken string) (bool, error) {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE users SET refresh_token = $1, updated_at = now() WHERE id = $2 AND refresh_token = $3
`, nextToken, userID, previousToken)
	if execErr != nil {
		return false, fmt.Errorf("user_store.swap_refresh_token.postgres: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUsers returns all users ordered by creation time.
func (store *PostgresUserStore) ListUsers(ctx context.Context) ([]authkit.User, error) {
	return store.findMany(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
}

// ListUsersWithRefreshToken returns all users currently holding a refresh token.
func (store *PostgresUserStore) ListUsersWithRefreshToken(ctx context.Context) ([]authkit.User, error) {
	return store.findMany(ctx, `SELECT `+userColumns+` FROM users WHERE refresh_token <> '' ORDER BY created_at`)
}

func (store *PostgresUserStore) findOne(ctx context.Context, query string, argument string) (*authkit.User, error) {
	row := store.pool.QueryRow(ctx, query, argument)
	user, scanErr := scanUser(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_store.find.postgres: %w", authkit.ErrUserNotFound)
		}
		return nil, fmt.Errorf("user_store.find.postgres: %w", scanErr)
	}
	return user, nil
}

func (store *PostgresUserStore) findMany(ctx context.Context, query string) ([]authkit.User, error) {
	rows, queryErr := store.pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("user_store.list.postgres: %w", queryErr)
	}
	defer rows.Close()
	users := make([]authkit.User, 0)
	for rows.Next() {
		user, scanErr := scanUser(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("user_store.list.postgres: %w", scanErr)
		}
		users = append(users, *user)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("user_store.list.postgres: %w", rowsErr)
	}
	return users, nil
}

type rowScanner interface {
	Scan(destinations ...any) error
}

func scanUser(row rowScanner) (*authkit.User, error) {
	var user authkit.User
	var googleID *string
	var role string
	if err := row.Scan(&user.ID, &user.Email, &googleID, &user.DisplayName, &user.AvatarURL, &user.StatusMessage, &role, &user.IsBanned, &user.RefreshToken, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if googleID != nil {
		user.GoogleID = *googleID
	}
	user.Role = authkit.Role(role)
	return &user, nil
}

func nullableGoogleID(googleID string) *string {
	if googleID == "" {
		return nil
	}
	return &googleID
}
