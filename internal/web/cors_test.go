package web

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestConfigureCORSAcceptsExplicitOrigins(t *testing.T) {
	middleware, err := ConfigureCORS(zaptest.NewLogger(t), []string{"https://app.example.com", "http://localhost:3000"})
	if err != nil {
		t.Fatalf("expected configuration to succeed, got %v", err)
	}
	if middleware == nil {
		t.Fatalf("expected a middleware handler")
	}
}

func TestConfigureCORSRejectsWildcard(t *testing.T) {
	if _, err := ConfigureCORS(zaptest.NewLogger(t), []string{"*"}); !errors.Is(err, errWildcardOrigin) {
		t.Fatalf("expected wildcard rejection, got %v", err)
	}
}

func TestConfigureCORSRejectsEmptyList(t *testing.T) {
	if _, err := ConfigureCORS(zaptest.NewLogger(t), nil); !errors.Is(err, errEmptyAllowedOrigins) {
		t.Fatalf("expected empty-list rejection, got %v", err)
	}
	if _, err := ConfigureCORS(zaptest.NewLogger(t), []string{"  ", ""}); !errors.Is(err, errEmptyAllowedOrigins) {
		t.Fatalf("expected blank-list rejection, got %v", err)
	}
}

func TestConfigureCORSRejectsMalformedOrigins(t *testing.T) {
	cases := []string{
		"example.com",
		"ftp://example.com",
		"https://example.com/app",
		"https://example.com?query=1",
	}
	for _, origin := range cases {
		if _, err := ConfigureCORS(zaptest.NewLogger(t), []string{origin}); !errors.Is(err, errInvalidOrigin) {
			t.Fatalf("expected %q to be rejected, got %v", origin, err)
		}
	}
}

func TestSanitizeOriginsDeduplicates(t *testing.T) {
	sanitized, err := sanitizeOrigins(zaptest.NewLogger(t), []string{
		"https://app.example.com",
		"https://app.example.com",
		"HTTPS://app.example.com",
	})
	if err != nil {
		t.Fatalf("expected sanitization to succeed, got %v", err)
	}
	if len(sanitized) != 1 {
		t.Fatalf("expected one origin after dedupe, got %v", sanitized)
	}
	if sanitized[0] != "https://app.example.com" {
		t.Fatalf("expected normalized origin, got %q", sanitized[0])
	}
}
