package userstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mprlab/accountd/internal/authkit"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("user_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("user_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("user_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("user_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("user_store.unsupported_no_scheme")
)

// DatabaseUserStore persists users using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseUserStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Email         string    `gorm:"column:email;uniqueIndex;not null"`
	GoogleID      *string   `gorm:"column:google_id;uniqueIndex"`
	DisplayName   string    `gorm:"column:display_name;not null;default:''"`
	AvatarURL     string    `gorm:"column:avatar_url;not null;default:''"`
	StatusMessage string    `gorm:"column:status_message;size:200;not null;default:''"`
	Role          string    `gorm:"column:role;type:varchar(20);not null;default:'FREE'"`
	IsBanned      bool      `gorm:"column:is_banned;not null;default:false"`
	RefreshToken  string    `gorm:"column:refresh_token;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toUser() authkit.User {
	googleID := ""
	if record.GoogleID != nil {
		googleID = *record.GoogleID
	}
	return authkit.User{
		ID:            record.ID,
		Email:         record.Email,
		GoogleID:      googleID,
		DisplayName:   record.DisplayName,
		AvatarURL:     record.AvatarURL,
		StatusMessage: record.StatusMessage,
		Role:          authkit.Role(record.Role),
		IsBanned:      record.IsBanned,
		RefreshToken:  record.RefreshToken,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func toRecord(user *authkit.User) userRecord {
	// NULL keeps the unique index from colliding on never-linked accounts.
	var googleID *string
	if user.GoogleID != "" {
		value := user.GoogleID
		googleID = &value
	}
	return userRecord{
		ID:            user.ID,
		Email:         user.Email,
		GoogleID:      googleID,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		StatusMessage: user.StatusMessage,
		Role:          string(user.Role),
		IsBanned:      user.IsBanned,
		RefreshToken:  user.RefreshToken,
	}
}

// NewDatabaseUserStore constructs a GORM-backed store from a database URL
// (postgres:// or sqlite://).
func NewDatabaseUserStore(ctx context.Context, databaseURL string) (*DatabaseUserStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("user_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("user_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("user_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseUserStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Create inserts a new user row, assigning an id when absent.
func (store *DatabaseUserStore) Create(ctx context.Context, user *authkit.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	record := toRecord(user)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user_store.create.%s: %w", store.driverLabel, authkit.ErrDuplicateEmail)
		}
		return fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	user.CreatedAt = record.CreatedAt
	user.UpdatedAt = record.UpdatedAt
	return nil
}

// FindByID loads a user by primary key.
func (store *DatabaseUserStore) FindByID(ctx context.Context, userID string) (*authkit.User, error) {
	return store.findOne(ctx, "id = ?", userID)
}

// FindByEmail loads a user by email.
func (store *DatabaseUserStore) FindByEmail(ctx context.Context, email string) (*authkit.User, error) {
	return store.findOne(ctx, "email = ?", email)
}

// FindByGoogleID loads a user by external id.
func (store *DatabaseUserStore) FindByGoogleID(ctx context.Context, googleID string) (*authkit.User, error) {
	return store.findOne(ctx, "google_id = ?", googleID)
}

// Update saves mutable fields of an existing user row.
func (store *DatabaseUserStore) Update(ctx context.Context, user *authkit.User) error {
	record := toRecord(user)
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"email":          record.Email,
			"google_id":      record.GoogleID,
			"display_name":   record.DisplayName,
			"avatar_url":     record.AvatarURL,
			"status_message": record.StatusMessage,
			"role":           record.Role,
			"is_banned":      record.IsBanned,
		})
	if result.Error != nil {
		return fmt.Errorf("user_store.update.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.update.%s: %w", store.driverLabel, authkit.ErrUserNotFound)
	}
	return nil
}

// SetRefreshToken unconditionally overwrites the stored refresh token.
func (store *DatabaseUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", userID).
		Update("refresh_token", refreshToken)
	if result.Error != nil {
		return fmt.Errorf("user_store.set_refresh_token.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.set_refresh_token.%s: %w", store.driverLabel, authkit.ErrUserNotFound)
	}
	return nil
}

// SwapRefreshToken performs the conditional rotation write. The WHERE clause
// on the previous token value makes concurrent rotations race to a single
// winner at the database.
func (store *DatabaseUserStore) SwapRefreshToken(ctx context.Context, userID string, previousToken string, nextToken string) (bool, error) {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ? AND refresh_token = ?", userID, previousToken).
		Update("refresh_token", nextToken)
	if result.Error != nil {
		return false, fmt.Errorf("user_store.swap_refresh_token.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListUsers returns all users ordered by creation time.
func (store *DatabaseUserStore) ListUsers(ctx context.Context) ([]authkit.User, error) {
	var records []userRecord
	if err := store.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("user_store.list.%s: %w", store.driverLabel, err)
	}
	return recordsToUsers(records), nil
}

// ListUsersWithRefreshToken returns all users currently holding a refresh token.
func (store *DatabaseUserStore) ListUsersWithRefreshToken(ctx context.Context) ([]authkit.User, error) {
	var records []userRecord
	if err := store.db.WithContext(ctx).Where("refresh_token <> ''").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("user_store.list_with_refresh_token.%s: %w", store.driverLabel, err)
	}
	return recordsToUsers(records), nil
}

func (store *DatabaseUserStore) findOne(ctx context.Context, query string, argument string) (*authkit.User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where(query, argument).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user_store.find.%s: %w", store.driverLabel, authkit.ErrUserNotFound)
		}
		return nil, fmt.Errorf("user_store.find.%s: %w", store.driverLabel, err)
	}
	user := record.toUser()
	return &user, nil
}

func recordsToUsers(records []userRecord) []authkit.User {
	users := make([]authkit.User, 0, len(records))
	for _, record := range records {
		users = append(users, record.toUser())
	}
	return users
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("user_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("user_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("user_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("user_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
