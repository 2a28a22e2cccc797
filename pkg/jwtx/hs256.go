package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSig = errors.New("jwtx: invalid signature")
	ErrExpired    = errors.New("jwtx: token expired")
	ErrScope      = errors.New("jwtx: scope mismatch")
)

// HS256 signs and verifies session tokens with a shared secret. A PDS
// issues its own session tokens, so symmetric keys are sufficient.
type HS256 struct {
	secret []byte
}

// NewHS256 returns an HS256 signer/verifier. The secret must be non-empty.
func NewHS256(secret []byte) (*HS256, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwtx: empty HS256 secret")
	}
	return &HS256{secret: secret}, nil
}

// Sign serialises claims into a compact JWT.
func (h *HS256) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and the expected scope.
func (h *HS256) Verify(raw, scope string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrInvalidSig
	case err != nil:
		return Claims{}, ErrMalformed
	}
	if scope != "" && claims.Scope != scope {
		return Claims{}, ErrScope
	}
	return claims, nil
}
