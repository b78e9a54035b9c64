package authkit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

var (
	// ErrMissingIDToken indicates the code exchange succeeded but the provider
	// response carried no ID token.
	ErrMissingIDToken = errors.New("oauth.exchange.missing_id_token")
	// ErrUnverifiedIdentity indicates the provider assertion lacked a verified
	// email or a subject.
	ErrUnverifiedIdentity = errors.New("oauth.unverified_identity")
)

// GoogleAssertion is the identity payload extracted from a verified Google ID
// token. Email and GoogleID are always non-empty; AvatarURL may be empty.
type GoogleAssertion struct {
	Email       string
	DisplayName string
	AvatarURL   string
	GoogleID    string
}

// OAuthFlow drives the browser redirect and the authorization-code exchange.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	ExchangeIDToken(ctx context.Context, code string) (string, error)
}

// IdentityVerifier verifies a raw provider ID token and extracts the assertion.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string, audience string) (GoogleAssertion, error)
}

// GoogleOAuthFlow implements OAuthFlow against Google's OAuth2 endpoints.
type GoogleOAuthFlow struct {
	config *oauth2.Config
}

// NewGoogleOAuthFlow builds the redirect/exchange configuration.
func NewGoogleOAuthFlow(clientID string, clientSecret string, redirectURL string) *GoogleOAuthFlow {
	return &GoogleOAuthFlow{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
	}
}

// AuthCodeURL returns the provider URL the browser is redirected to.
func (flow *GoogleOAuthFlow) AuthCodeURL(state string) string {
	return flow.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeIDToken swaps the authorization code for the provider's ID token.
func (flow *GoogleOAuthFlow) ExchangeIDToken(ctx context.Context, code string) (string, error) {
	token, exchangeErr := flow.config.Exchange(ctx, code)
	if exchangeErr != nil {
		return "", fmt.Errorf("oauth.exchange.failure: %w", exchangeErr)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("oauth.exchange.failure: %w", ErrMissingIDToken)
	}
	return rawIDToken, nil
}

type googleIdentityVerifier struct {
	validator *idtoken.Validator
}

// NewGoogleIdentityVerifier constructs a verifier backed by Google's public keys.
func NewGoogleIdentityVerifier(ctx context.Context) (IdentityVerifier, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth.verifier.init: %w", err)
	}
	return &googleIdentityVerifier{validator: validator}, nil
}

// Verify validates the ID token signature and audience and extracts the assertion.
func (verifier *googleIdentityVerifier) Verify(ctx context.Context, rawIDToken string, audience string) (GoogleAssertion, error) {
	payload, validateErr := verifier.validator.Validate(ctx, rawIDToken, audience)
	if validateErr != nil {
		return GoogleAssertion{}, fmt.Errorf("oauth.verify.failure: %w", validateErr)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return GoogleAssertion{}, fmt.Errorf("oauth.verify.failure: %w", ErrUnverifiedIdentity)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	userDisplayName, _ := payload.Claims["name"].(string)
	avatarURL, _ := payload.Claims["picture"].(string)
	if googleSub == "" || userEmail == "" || !emailVerified {
		return GoogleAssertion{}, fmt.Errorf("oauth.verify.failure: %w", ErrUnverifiedIdentity)
	}
	return GoogleAssertion{
		Email:       userEmail,
		DisplayName: userDisplayName,
		AvatarURL:   avatarURL,
		GoogleID:    googleSub,
	}, nil
}
