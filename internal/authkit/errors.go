package authkit

import "errors"

var (
	// ErrUnauthenticated is the single outcome for every failed credential check.
	// Refresh failures of any kind collapse into it so callers cannot tell a
	// forged token from an expired or superseded one.
	ErrUnauthenticated = errors.New("auth.unauthenticated")
	// ErrForbidden indicates an authenticated caller whose role is not in the
	// operation's allowed set.
	ErrForbidden = errors.New("auth.forbidden")
	// ErrInvalidRole indicates a role value outside the known tiers.
	ErrInvalidRole = errors.New("auth.invalid_role")
	// ErrIncompleteAssertion indicates a provider assertion missing its email
	// or external id.
	ErrIncompleteAssertion = errors.New("auth.bridge.incomplete_assertion")

	// ErrUserNotFound indicates no user matched the provided identifier.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrDuplicateEmail indicates a create would violate email uniqueness.
	ErrDuplicateEmail = errors.New("user_store.duplicate_email")
	// ErrDuplicateGoogleID indicates a create or link would violate external-id uniqueness.
	ErrDuplicateGoogleID = errors.New("user_store.duplicate_google_id")
)
