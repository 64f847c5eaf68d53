package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionToken is the bearer credential for the marketplace API.
type SessionToken struct {
	Value            string        `json:"value"`
	IssuedAt         time.Time     `json:"issued_at"`
	ExpectedLifetime time.Duration `json:"expected_lifetime"`
}

func (t *SessionToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpectedLifetime)
}

// ParseSessionToken builds a SessionToken from a raw bearer value. When the
// value is a JWT its iat/exp claims are used; signatures are not checked
// since the server is the only verifier. Opaque tokens fall back to now
// and the given lifetime.
func ParseSessionToken(raw string, now time.Time, fallbackLifetime time.Duration) *SessionToken {
	tok := &SessionToken{Value: raw, IssuedAt: now, ExpectedLifetime: fallbackLifetime}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return tok
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		tok.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.After(tok.IssuedAt) {
		tok.ExpectedLifetime = exp.Sub(tok.IssuedAt)
	}
	return tok
}
