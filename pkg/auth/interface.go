package auth

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is what the identity layer knows about a caller. Subject is the
// user id every test and run is scoped to.
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// UserID returns the owner id for repository lookups.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Subject)
}

// Validator resolves a bearer token into claims.
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config configures the JWKS validator.
type Config struct {
	JwksURL     string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	HTTPTimeout time.Duration
	// CacheTTL bounds how long fetched keys are trusted before a refetch.
	CacheTTL time.Duration
}
