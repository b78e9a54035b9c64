package authkit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ResolveGoogleUser maps a verified provider assertion to exactly one user.
// External-id match wins over email match; an email match links the Google
// identity onto the existing account; otherwise a new FREE user is created.
func (service *Service) ResolveGoogleUser(ctx context.Context, assertion GoogleAssertion) (*User, error) {
	if strings.TrimSpace(assertion.Email) == "" || strings.TrimSpace(assertion.GoogleID) == "" {
		return nil, fmt.Errorf("auth.bridge: %w", ErrIncompleteAssertion)
	}

	existing, findErr := service.users.FindByGoogleID(ctx, assertion.GoogleID)
	if findErr == nil {
		return existing, nil
	}
	if !isNotFound(findErr) {
		return nil, fmt.Errorf("auth.bridge.lookup_google_id: %w", findErr)
	}

	byEmail, emailErr := service.users.FindByEmail(ctx, assertion.Email)
	if emailErr == nil {
		byEmail.GoogleID = assertion.GoogleID
		byEmail.DisplayName = assertion.DisplayName
		byEmail.AvatarURL = assertion.AvatarURL
		if updateErr := service.users.Update(ctx, byEmail); updateErr != nil {
			return nil, fmt.Errorf("auth.bridge.link: %w", updateErr)
		}
		service.metrics.Increment(MetricBridgeLinked)
		service.logger.Info("linked google identity to existing account",
			zap.String("code", "auth.bridge.linked"),
			zap.String("user_id", byEmail.ID))
		return byEmail, nil
	}
	if !isNotFound(emailErr) {
		return nil, fmt.Errorf("auth.bridge.lookup_email: %w", emailErr)
	}

	created := &User{
		Email:       assertion.Email,
		GoogleID:    assertion.GoogleID,
		DisplayName: assertion.DisplayName,
		AvatarURL:   assertion.AvatarURL,
		Role:        RoleFree,
	}
	if createErr := service.users.Create(ctx, created); createErr != nil {
		return nil, fmt.Errorf("auth.bridge.create: %w", createErr)
	}
	service.metrics.Increment(MetricBridgeCreated)
	service.logger.Info("created user from google identity",
		zap.String("code", "auth.bridge.created"),
		zap.String("user_id", created.ID))
	return created, nil
}
