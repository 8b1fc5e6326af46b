// Package auth implements the session and CSRF subsystem: a signed session
// token codec, a session manager that binds tokens to the per-user
// auth_version revocation counter, and a double-submit CSRF guard.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is the lifetime of a session token and both auth cookies.
const SessionTTL = 7 * 24 * time.Hour

// accessTokenType is the only token type the codec issues or accepts.
const accessTokenType = "access"

// Claims is the session token payload: the standard registered claims plus
// the auth_version the token was issued against.
type Claims struct {
	Version   int64  `json:"v"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies compact session tokens (HS256 JWTs). It is
// a leaf component: it knows nothing about cookies or storage.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a codec signing with the given secret.
func NewTokenCodec(secret []byte) *TokenCodec {
	return &TokenCodec{secret: secret}
}

// Sign produces a signed token asserting the subject and the auth_version
// it was issued against, expiring after SessionTTL.
func (c *TokenCodec) Sign(userID string, version int64) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Version:   version,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry and returns the claims. Tokens of
// any type other than "access", or without a subject, are rejected even
// when structurally valid.
func (c *TokenCodec) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenType != accessTokenType {
		return nil, errors.New("not an access token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
