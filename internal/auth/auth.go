// Package auth exchanges the shared admin secret for a short-lived HS256
// session token.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "roadside-dispatch"

var (
	ErrBadSecret    = errors.New("wrong admin secret")
	ErrInvalidToken = errors.New("invalid session token")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Sessions struct {
	adminSecret []byte
	signingKey  []byte
	ttl         time.Duration
	now         func() time.Time
}

// NewSessions signs with signingKey, or with the admin secret itself when
// no separate key is configured.
func NewSessions(adminSecret, signingKey string, ttl time.Duration) *Sessions {
	if signingKey == "" {
		signingKey = adminSecret
	}
	return &Sessions{adminSecret: []byte(adminSecret), signingKey: []byte(signingKey), ttl: ttl, now: time.Now}
}

// Enabled is false when no admin secret is configured; admin routes are then
// open, which is only meant for local runs.
func (s *Sessions) Enabled() bool { return s != nil && len(s.adminSecret) > 0 }

func (s *Sessions) Login(secret string) (string, time.Time, error) {
	if !s.Enabled() || subtle.ConstantTimeCompare([]byte(secret), s.adminSecret) != 1 {
		return "", time.Time{}, ErrBadSecret
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *Sessions) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Role != "admin" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
