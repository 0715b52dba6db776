// Package jwt signs and verifies HMAC JSON Web Tokens used as stateless
// capabilities (email verification links and similar).
//
// Verify never panics and never returns an error: every malformed, tampered
// or expired token yields nil claims.
package jwt

import (
	"errors"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret is returned by Sign when no signing secret is configured.
var ErrEmptySecret = errors.New("jwt: empty secret")

var validMethods = []string{
	gojwt.SigningMethodHS256.Alg(),
	gojwt.SigningMethodHS384.Alg(),
	gojwt.SigningMethodHS512.Alg(),
}

// Sign returns an HS256 token carrying claims plus iat and exp.
// iat and exp always reflect this call; caller-supplied values are replaced.
func Sign(claims map[string]any, secret string, expiresIn time.Duration) (string, error) {
	return SignAt(claims, secret, expiresIn, time.Now())
}

// SignAt is Sign with an explicit issue time.
func SignAt(claims map[string]any, secret string, expiresIn time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	merged := gojwt.MapClaims{}
	for k, v := range claims {
		merged[k] = v
	}
	merged["iat"] = now.Unix()
	merged["exp"] = now.Add(expiresIn).Unix()

	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, merged).SignedString([]byte(secret))
}

// Verify returns the token's claims, or nil if the token is not exactly three
// segments, its signature does not match, it has expired, or it cannot be parsed.
func Verify(token, secret string) map[string]any {
	return VerifyAt(token, secret, time.Now())
}

// VerifyAt is Verify evaluated at the given instant.
func VerifyAt(token, secret string, now time.Time) (claims map[string]any) {
	if secret == "" || strings.Count(token, ".") != 2 {
		return nil
	}
	defer func() {
		if recover() != nil {
			claims = nil
		}
	}()

	parsed, err := gojwt.Parse(token, func(t *gojwt.Token) (any, error) {
		return []byte(secret), nil
	},
		gojwt.WithValidMethods(validMethods),
		gojwt.WithExpirationRequired(),
		gojwt.WithStrictDecoding(),
		gojwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	mc, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil
	}
	return map[string]any(mc)
}
