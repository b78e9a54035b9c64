package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are embedded in both access and refresh tokens. The payload is
// deliberately small: the subject carries the user id and the only custom
// claim is the email.
type TokenClaims struct {
	UserEmail string `json:"email"`
	jwt.RegisteredClaims
}

var (
	// ErrEmptySubject indicates a mint attempt without a user id.
	ErrEmptySubject = errors.New("jwt.mint.empty_subject")
	// ErrTokenInvalid covers malformed tokens, bad signatures, and issuer mismatches.
	ErrTokenInvalid = errors.New("jwt.invalid_token")
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("jwt.expired")
)

// MintToken creates a signed HS256 token for the given user. The same helper
// serves both token kinds; the caller chooses the signing key and TTL.
func MintToken(clock Clock, userID string, userEmail string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", ErrEmptySubject)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserEmail: userEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature, expiry, and issuer against the supplied key.
func ParseToken(clock Clock, tokenString string, issuer string, signingKey []byte) (*TokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenInvalid)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenInvalid)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*TokenClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenInvalid)
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("jwt.parse.failure: %w", ErrTokenInvalid)
	}
	return claims, nil
}
