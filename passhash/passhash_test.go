package passhash_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/authkit/passhash"
)

func TestHashFormat(t *testing.T) {
	encoded, err := passhash.Default().Hash("correct horse")
	require.NoError(t, err)

	parts := strings.Split(encoded, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, passhash.PBKDF2SHA256, parts[0])
	assert.Equal(t, "600000", parts[1])
	assert.Len(t, parts[2], passhash.SaltLength*2)
	assert.Len(t, parts[3], passhash.KeyLength*2)
}

func TestVerifyRoundTrip(t *testing.T) {
	h := passhash.Default()
	for _, pw := range []string{"pw1", "correct horse battery staple", "ünïcødé", ""} {
		encoded, err := h.Hash(pw)
		require.NoError(t, err)
		assert.True(t, passhash.Verify(pw, encoded), "password %q", pw)
		assert.False(t, passhash.Verify(pw+"x", encoded), "password %q with suffix", pw)
	}
}

func TestSaltIsRandom(t *testing.T) {
	h := passhash.Default()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyMalformedFailsClosed(t *testing.T) {
	good, err := passhash.Default().Hash("secret")
	require.NoError(t, err)
	parts := strings.Split(good, ":")

	cases := map[string]string{
		"empty":           "",
		"too few parts":   strings.Join(parts[:3], ":"),
		"too many parts":  good + ":extra",
		"unknown algo":    "md5:" + strings.Join(parts[1:], ":"),
		"bad iterations":  parts[0] + ":abc:" + parts[2] + ":" + parts[3],
		"zero iterations": parts[0] + ":0:" + parts[2] + ":" + parts[3],
		"huge iterations": parts[0] + ":999999999:" + parts[2] + ":" + parts[3],
		"bad salt hex":    parts[0] + ":" + parts[1] + ":zz:" + parts[3],
		"bad key hex":     parts[0] + ":" + parts[1] + ":" + parts[2] + ":xyz",
		"empty key":       parts[0] + ":" + parts[1] + ":" + parts[2] + ":",
		"flipped key":     parts[0] + ":" + parts[1] + ":" + parts[2] + ":" + flip(parts[3]),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, passhash.Verify("secret", encoded))
			})
		})
	}
}

func TestIterationFloor(t *testing.T) {
	h, err := passhash.New(passhash.PBKDF2SHA256, 1000)
	require.NoError(t, err)
	assert.Equal(t, passhash.MinPBKDF2Iterations, h.Iterations())

	_, err = passhash.New("rot13", 0)
	assert.Error(t, err)
}

func TestNeedsRehash(t *testing.T) {
	h := passhash.Default()
	encoded, err := h.Hash("pw")
	require.NoError(t, err)
	assert.False(t, h.NeedsRehash(encoded))

	stronger, err := passhash.New(passhash.PBKDF2SHA256, passhash.MinPBKDF2Iterations+1)
	require.NoError(t, err)
	assert.True(t, stronger.NeedsRehash(encoded))

	other, err := passhash.New(passhash.PBKDF2SHA512, 0)
	require.NoError(t, err)
	assert.True(t, other.NeedsRehash(encoded))
	assert.True(t, h.NeedsRehash("garbage"))
}

func TestArgon2RoundTrip(t *testing.T) {
	h, err := passhash.New(passhash.Argon2ID, 0)
	require.NoError(t, err)
	encoded, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "argon2id:3:"))
	assert.True(t, passhash.Verify("pw", encoded))
	assert.False(t, passhash.Verify("pw2", encoded))
}

func TestLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("oldpass"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, passhash.Verify("oldpass", string(legacy)))
	assert.False(t, passhash.Verify("newpass", string(legacy)))
	assert.True(t, passhash.Default().NeedsRehash(string(legacy)))
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}
