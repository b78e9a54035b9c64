package authkit

import "time"

// ServerConfig configures signing secrets, token lifetimes, and the OAuth handoff.
type ServerConfig struct {
	GoogleClientID      string
	GoogleClientSecret  string
	OAuthRedirectURL    string
	FrontendCallbackURL string
	AccessSigningKey    []byte
	RefreshSigningKey   []byte
	Issuer              string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	StateTTL            time.Duration
}
