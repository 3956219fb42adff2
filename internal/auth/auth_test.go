package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndValidate(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	s := NewSessions("open-sesame", "signing-key", 8*time.Hour)
	s.now = func() time.Time { return now }

	token, exp, err := s.Login("open-sesame")
	require.NoError(t, err)
	assert.Equal(t, now.Add(8*time.Hour), exp)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, issuer, claims.Issuer)

	now = now.Add(9 * time.Hour)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	s := NewSessions("open-sesame", "", time.Hour)
	_, _, err := s.Login("guess")
	assert.ErrorIs(t, err, ErrBadSecret)

	disabled := NewSessions("", "", time.Hour)
	assert.False(t, disabled.Enabled())
	_, _, err = disabled.Login("")
	assert.ErrorIs(t, err, ErrBadSecret)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	s := NewSessions("open-sesame", "", time.Hour)
	other := NewSessions("open-sesame", "another-key", time.Hour)
	token, _, err := other.Login("open-sesame")
	require.NoError(t, err)

	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "admin"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}
