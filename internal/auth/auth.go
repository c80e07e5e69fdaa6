// Package auth validates bearer credentials against one configured secret.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/buildgate/buildgate/internal/model"
)

// PlaceholderToken is the well-known template value. Configuring it (or an
// empty token) leaves authentication disabled.
const PlaceholderToken = "change-me"

const bearerPrefix = "bearer "

// Authenticator checks bearer tokens. Constructed once at boot; immutable.
type Authenticator struct {
	secret  string
	enabled bool
}

// New creates an Authenticator. Authentication is enabled only when the
// secret is non-empty and not the placeholder value.
func New(secret string) *Authenticator {
	return &Authenticator{
		secret:  secret,
		enabled: secret != "" && secret != PlaceholderToken,
	}
}

// Enabled reports whether tokens are being checked.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// ExtractToken strips a case-insensitive "Bearer " prefix and surrounding
// whitespace. Returns "" for missing, empty, or prefix-only input.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// Validate checks a raw token. When authentication is disabled it always
// succeeds. The comparison is constant-time over the full secret length so
// the mismatch position never leaks through timing.
func (a *Authenticator) Validate(token string) error {
	if !a.enabled {
		return nil
	}
	if token == "" {
		return model.NewViolation(model.KindAuthMissing, "authentication required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		return model.NewViolation(model.KindAuthInvalid, "invalid token")
	}
	return nil
}

// Authorize extracts the token from an Authorization header value and
// validates it.
func (a *Authenticator) Authorize(header string) error {
	if !a.enabled {
		return nil
	}
	return a.Validate(ExtractToken(header))
}
