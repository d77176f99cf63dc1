// Package authrefresh implements the refresh-lock coordinator: the
// cryptographic verification, distributed-lock serialization, and
// mint-before-revoke protocol for rotating a refresh token.
package authrefresh

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenTTL and RefreshTokenTTL bound the minted tokens' lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims is the access token's JWT payload.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies access tokens, and hashes refresh tokens
// for storage (the store never holds a raw, usable refresh token).
type TokenIssuer struct {
	signingKey []byte
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey}
}

// MintAccessToken signs a short-lived JWT for userID.
func (t *TokenIssuer) MintAccessToken(userID uuid.UUID, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", fmt.Errorf("authrefresh: sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken parses and validates an access token, returning the
// subject user id.
func (t *TokenIssuer) VerifyAccessToken(raw string) (uuid.UUID, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.signingKey, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("authrefresh: invalid access token: %w", err)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("authrefresh: invalid subject claim: %w", err)
	}
	return userID, nil
}

// NewRefreshToken generates a fresh opaque refresh token and its storage
// hash. The raw value is returned to the caller once and never stored.
func (t *TokenIssuer) NewRefreshToken() (raw string, hash string) {
	raw = uuid.New().String() + uuid.New().String()
	return raw, HashRefreshToken(raw)
}

// HashRefreshToken derives the storage hash for a presented refresh
// token, so a cryptographic verification (protocol step 1) never needs
// the raw value to leave this package.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
