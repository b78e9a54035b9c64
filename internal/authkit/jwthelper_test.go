package authkit

import (
	"errors"
	"testing"
	"time"
)

type fixedClock struct {
	current time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{current: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (clock *fixedClock) Now() time.Time {
	return clock.current
}

func (clock *fixedClock) Advance(delta time.Duration) {
	clock.current = clock.current.Add(delta)
}

func TestMintTokenRejectsEmptySubject(t *testing.T) {
	clock := newFixedClock()

	_, _, err := MintToken(clock, "  ", "user@example.com", "accountd", []byte("secret"), time.Minute)
	if err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
	expectedMessage := "jwt.mint.failure: jwt.mint.empty_subject"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestMintTokenExpiryFollowsClock(t *testing.T) {
	clock := newFixedClock()
	ttl := 15 * time.Minute

	_, expiresAt, err := MintToken(clock, "user-1", "user@example.com", "accountd", []byte("secret"), ttl)
	if err != nil {
		t.Fatalf("expected mint to succeed, got %v", err)
	}
	if !expiresAt.Equal(clock.Now().Add(ttl)) {
		t.Fatalf("expected expiry %v, got %v", clock.Now().Add(ttl), expiresAt)
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	clock := newFixedClock()
	signingKey := []byte("round-trip-secret")

	tokenString, _, mintErr := MintToken(clock, "user-1", "user@example.com", "accountd", signingKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	claims, parseErr := ParseToken(clock, tokenString, "accountd", signingKey)
	if parseErr != nil {
		t.Fatalf("expected parse to succeed, got %v", parseErr)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", claims.Subject)
	}
	if claims.UserEmail != "user@example.com" {
		t.Fatalf("expected email user@example.com, got %q", claims.UserEmail)
	}
	if claims.Issuer != "accountd" {
		t.Fatalf("expected issuer accountd, got %q", claims.Issuer)
	}
}

func TestParseTokenRejectsWrongKey(t *testing.T) {
	clock := newFixedClock()

	tokenString, _, mintErr := MintToken(clock, "user-1", "user@example.com", "accountd", []byte("key-one"), time.Hour)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	_, parseErr := ParseToken(clock, tokenString, "accountd", []byte("key-two"))
	if !errors.Is(parseErr, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", parseErr)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	clock := newFixedClock()
	signingKey := []byte("expiry-secret")

	tokenString, _, mintErr := MintToken(clock, "user-1", "user@example.com", "accountd", signingKey, time.Minute)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	clock.Advance(2 * time.Minute)

	_, parseErr := ParseToken(clock, tokenString, "accountd", signingKey)
	if !errors.Is(parseErr, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", parseErr)
	}
}

func TestParseTokenRejectsWrongIssuer(t *testing.T) {
	clock := newFixedClock()
	signingKey := []byte("issuer-secret")

	tokenString, _, mintErr := MintToken(clock, "user-1", "user@example.com", "other-service", signingKey, time.Hour)
	if mintErr != nil {
		t.Fatalf("expected mint to succeed, got %v", mintErr)
	}

	_, parseErr := ParseToken(clock, tokenString, "accountd", signingKey)
	if !errors.Is(parseErr, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for issuer mismatch, got %v", parseErr)
	}
}

func TestParseTokenRejectsEmptyString(t *testing.T) {
	clock := newFixedClock()

	_, parseErr := ParseToken(clock, "   ", "accountd", []byte("secret"))
	if !errors.Is(parseErr, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", parseErr)
	}
}
