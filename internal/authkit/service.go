package authkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// TokenPair carries the freshly minted credentials and the public projection
// of their owner.
type TokenPair struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         PublicUser `json:"user"`
}

// Service implements token issuance, refresh rotation, and logout on top of a
// UserStore.
type Service struct {
	config  ServerConfig
	users   UserStore
	clock   Clock
	logger  *zap.Logger
	metrics MetricsRecorder
}

// NewService wires the auth service. Nil clock, logger, and metrics fall back
// to the system clock, a no-op logger, and a no-op recorder.
func NewService(configuration ServerConfig, users UserStore, clock Clock, logger *zap.Logger, metrics MetricsRecorder) *Service {
	if users == nil {
		panic("user store is required")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		config:  configuration,
		users:   users,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Login mints an access/refresh pair for the user and persists the refresh
// token on the user row, superseding whatever token was stored before.
func (service *Service) Login(ctx context.Context, user *User) (TokenPair, error) {
	accessToken, _, accessErr := MintToken(service.clock, user.ID, user.Email, service.config.Issuer, service.config.AccessSigningKey, service.config.AccessTTL)
	if accessErr != nil {
		return TokenPair{}, fmt.Errorf("auth.login.mint_access: %w", accessErr)
	}
	refreshToken, _, refreshErr := MintToken(service.clock, user.ID, user.Email, service.config.Issuer, service.config.RefreshSigningKey, service.config.RefreshTTL)
	if refreshErr != nil {
		return TokenPair{}, fmt.Errorf("auth.login.mint_refresh: %w", refreshErr)
	}
	if storeErr := service.users.SetRefreshToken(ctx, user.ID, refreshToken); storeErr != nil {
		return TokenPair{}, fmt.Errorf("auth.login.persist_refresh: %w", storeErr)
	}
	service.metrics.Increment(MetricLoginSuccess)
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Public(),
	}, nil
}

// Refresh validates a presented refresh token and rotates it for a new pair.
// Every rejection path returns ErrUnauthenticated; the internal reason is
// logged but never exposed, so a forged token is indistinguishable from an
// expired, superseded, or banned one.
func (service *Service) Refresh(ctx context.Context, presentedToken string) (TokenPair, error) {
	claims, parseErr := ParseToken(service.clock, presentedToken, service.config.Issuer, service.config.RefreshSigningKey)
	if parseErr != nil {
		return TokenPair{}, service.rejectRefresh("auth.refresh.invalid_token", parseErr)
	}

	user, findErr := service.users.FindByID(ctx, claims.Subject)
	if findErr != nil {
		return TokenPair{}, service.rejectRefresh("auth.refresh.unknown_subject", findErr)
	}

	if subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(presentedToken)) != 1 {
		return TokenPair{}, service.rejectRefresh("auth.refresh.superseded_token", nil)
	}

	if user.IsBanned {
		return TokenPair{}, service.rejectRefresh("auth.refresh.banned_user", nil)
	}

	accessToken, _, accessErr := MintToken(service.clock, user.ID, user.Email, service.config.Issuer, service.config.AccessSigningKey, service.config.AccessTTL)
	if accessErr != nil {
		return TokenPair{}, service.rejectRefresh("auth.refresh.mint_access", accessErr)
	}
	nextRefreshToken, _, refreshErr := MintToken(service.clock, user.ID, user.Email, service.config.Issuer, service.config.RefreshSigningKey, service.config.RefreshTTL)
	if refreshErr != nil {
		return TokenPair{}, service.rejectRefresh("auth.refresh.mint_refresh", refreshErr)
	}

	swapped, swapErr := service.users.SwapRefreshToken(ctx, user.ID, presentedToken, nextRefreshToken)
	if swapErr != nil {
		return TokenPair{}, service.rejectRefresh("auth.refresh.persist", swapErr)
	}
	if !swapped {
		// A concurrent rotation won; this caller's token is no longer current.
		return TokenPair{}, service.rejectRefresh("auth.refresh.rotation_lost", nil)
	}

	service.metrics.Increment(MetricRefreshSuccess)
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: nextRefreshToken,
		User:         user.Public(),
	}, nil
}

// Logout clears the stored refresh token so the next refresh attempt fails
// the comparison against the stored value.
func (service *Service) Logout(ctx context.Context, userID string) error {
	if err := service.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("auth.logout: %w", err)
	}
	service.metrics.Increment(MetricLogout)
	return nil
}

// AssignRole sets a user's role to one of the known tiers.
func (service *Service) AssignRole(ctx context.Context, userID string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("auth.assign_role: %w", ErrInvalidRole)
	}
	user, findErr := service.users.FindByID(ctx, userID)
	if findErr != nil {
		return nil, fmt.Errorf("auth.assign_role: %w", findErr)
	}
	user.Role = role
	if updateErr := service.users.Update(ctx, user); updateErr != nil {
		return nil, fmt.Errorf("auth.assign_role: %w", updateErr)
	}
	service.logger.Info("role assigned",
		zap.String("code", "auth.assign_role"),
		zap.String("user_id", user.ID),
		zap.String("role", string(role)))
	return user, nil
}

func (service *Service) rejectRefresh(code string, cause error) error {
	service.metrics.Increment(MetricRefreshRejected)
	fields := []zap.Field{zap.String("code", code)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	service.logger.Warn("refresh rejected", fields...)
	return ErrUnauthenticated
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}
