package jwt_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit/jwt"
)

const secret = "test-secret"

func TestSignShape(t *testing.T) {
	token, err := jwt.Sign(map[string]any{"email": "a@example.com"}, secret, time.Hour)
	require.NoError(t, err)

	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)
	assert.NotContainsf(t, token, "+", "token %s", token)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")
}

func TestRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := jwt.SignAt(map[string]any{"email": "a@example.com", "n": 3}, secret, time.Minute, now)
	require.NoError(t, err)

	claims := jwt.VerifyAt(token, secret, now.Add(59*time.Second))
	require.NotNil(t, claims)
	assert.Equal(t, "a@example.com", claims["email"])
	assert.Equal(t, float64(3), claims["n"])
	assert.Equal(t, float64(now.Unix()), claims["iat"])
	assert.Equal(t, float64(now.Add(time.Minute).Unix()), claims["exp"])
}

func TestCallerCannotOverrideExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := jwt.SignAt(map[string]any{"exp": now.Add(100 * time.Hour).Unix()}, secret, time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, jwt.VerifyAt(token, secret, now.Add(2*time.Minute)))
}

func TestRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := jwt.SignAt(map[string]any{"email": "a@example.com"}, secret, time.Minute, now)
	require.NoError(t, err)
	segments := strings.Split(token, ".")

	tests := []struct {
		name  string
		token string
		key   string
		at    time.Time
	}{
		{"expired", token, secret, now.Add(2 * time.Minute)},
		{"wrong secret", token, "other-secret", now},
		{"empty secret", token, "", now},
		{"two segments", segments[0] + "." + segments[1], secret, now},
		{"four segments", token + ".x", secret, now},
		{"mutated header", mutate(segments[0]) + "." + segments[1] + "." + segments[2], secret, now},
		{"mutated payload", segments[0] + "." + mutate(segments[1]) + "." + segments[2], secret, now},
		{"mutated signature", segments[0] + "." + segments[1] + "." + mutate(segments[2]), secret, now},
		{"garbage", "a.b.c", secret, now},
		{"empty", "", secret, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, jwt.VerifyAt(tt.token, tt.key, tt.at))
		})
	}
}

func TestSignRequiresSecret(t *testing.T) {
	_, err := jwt.Sign(map[string]any{}, "", time.Minute)
	assert.ErrorIs(t, err, jwt.ErrEmptySecret)
}

// mutate changes the first character, which always changes decoded bytes.
func mutate(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
