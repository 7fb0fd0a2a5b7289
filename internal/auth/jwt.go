// Package auth implements the termgate authentication substate: password
// verification, bearer-token lifecycle, in-flight 2FA sessions, WebAuthn,
// and the OTP channel.
//
// This file implements the token service using HMAC-SHA256 signed JWTs.
//
// TOKEN LIFECYCLE:
//
//  1. User completes the credential ladder (password, then WebAuthn or OTP)
//  2. Mint creates a signed JWT with a fresh jti
//  3. Client sends it on every request: "Authorization: Bearer <token>"
//  4. Validate verifies signature, expiry, then the revocation store by jti
//  5. Logout inserts the jti into the revocation store; the token is dead
//     from that point even though its signature still verifies
//
// SECURITY:
//   - The signing method is pinned to HMAC; tokens carrying "none" or an
//     asymmetric alg are rejected before signature verification (algorithm
//     substitution attacks).
//   - Weak secrets are rejected at startup by the config loader; this
//     package does not check the secret length again.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenRevoked is returned by Validate when the token's jti is present
// in the revocation store. The signature and expiry were already verified.
var ErrTokenRevoked = errors.New("token revoked")

// DefaultTokenTTL is the bearer token lifetime when the caller does not
// override it.
const DefaultTokenTTL = 24 * time.Hour

// Claims are the bearer token claims: {sub, iat, exp, jti}.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// JTI returns the unique token id used for revocation.
func (c *Claims) JTI() string { return c.ID }

// TokenService signs and validates bearer tokens.
type TokenService struct {
	secret     []byte
	issuer     string
	tokenTTL   time.Duration
	revocation *RevocationStore
}

// NewTokenService creates a token service. The secret length is validated
// by the config loader; a short secret here is a programming error.
func NewTokenService(secret string, ttl time.Duration, revocation *RevocationStore) *TokenService {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     "termgate",
		tokenTTL:   ttl,
		revocation: revocation,
	}
}

// TokenTTL returns the configured token lifetime.
func (s *TokenService) TokenTTL() time.Duration { return s.tokenTTL }

// Mint issues a signed token for userID with a fresh jti.
func (s *TokenService) Mint(userID string) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(s.tokenTTL)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate verifies the signature and expiry, then checks the revocation
// store by jti. A revoked jti yields ErrTokenRevoked regardless of
// signature validity.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if s.revocation != nil && s.revocation.Contains(claims.ID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Decode parses and verifies the token signature and expiry WITHOUT the
// revocation check. Used by logout, which must accept an already-revoked
// token so repeated logout stays idempotent.
func (s *TokenService) Decode(tokenString string) (*Claims, error) {
	return s.parse(tokenString)
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// SECURITY: pin the signing method to HMAC. Rejects "none" and
		// asymmetric algorithm substitution.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
