package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AT Protocol session token scopes.
const (
	ScopeAccess  = "com.atproto.access"
	ScopeRefresh = "com.atproto.refresh"
)

// Default token TTL constants, matching what a PDS hands out.
const (
	DefaultAccessTokenTTL  = 2 * time.Hour
	DefaultRefreshTokenTTL = 90 * 24 * time.Hour
)

// Claims are the session token claims. Subject is the account DID.
type Claims struct {
	jwt.RegisteredClaims

	Scope string `json:"scope,omitempty"`
}

// NewClaims builds minimally-correct session claims.
func NewClaims(did, scope, audience string, ttl time.Duration, now time.Time) Claims {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   did,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scope: scope,
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	return c
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
