// Package auth issues and checks capability tokens for generated clips.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "echoclone"

var (
	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("invalid clip token")
	// ErrWrongClip is returned when a valid token was issued for another clip.
	ErrWrongClip = errors.New("token does not grant this clip")
)

// ClipClaims grants read access to one generated clip.
type ClipClaims struct {
	ClipID string `json:"clip_id"`
	jwt.RegisteredClaims
}

// ClipTokens signs clip tokens with a shared HMAC secret.
// A nil *ClipTokens means tokens are disabled.
type ClipTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewClipTokens returns nil when secret is empty.
func NewClipTokens(secret string, ttl time.Duration) *ClipTokens {
	if secret == "" {
		return nil
	}
	return &ClipTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether retrieval requires a token.
func (t *ClipTokens) Enabled() bool {
	return t != nil
}

// Issue signs a token for clipID and returns it with its expiry.
func (t *ClipTokens) Issue(clipID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := &ClipClaims{
		ClipID: clipID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign clip token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks that token is valid and was issued for clipID.
func (t *ClipTokens) Verify(token, clipID string) error {
	if token == "" {
		return ErrInvalidToken
	}

	claims := &ClipClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}

	if claims.ClipID != clipID {
		return ErrWrongClip
	}
	return nil
}
