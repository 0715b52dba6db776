// Package oauth2 holds the provider plugins used by the OAuth sign-in feature.
//
// A Provider knows three things about an authorization server: how to build
// the consent URL, how to trade an authorization code for tokens, and how to
// fetch the signed-in user's profile. Everything else (CSRF state, account
// resolution, sessions) is handled by the caller.
package oauth2

import (
	"context"
	"errors"
)

// Provider is implemented by every OAuth 2.0 identity provider plugin.
type Provider interface {
	// Name is the path segment used in /auth/{name} routes.
	Name() string
	AuthorizationURL(params AuthorizationParams) string
	ExchangeCode(ctx context.Context, params TokenParams) (*Tokens, error)
	UserProfile(ctx context.Context, accessToken string) (*Profile, error)
}

type AuthorizationParams struct {
	ClientID    string
	RedirectURI string
	State       string
	Scopes      []string

	// CodeVerifier enables PKCE (S256) when set.
	CodeVerifier string
}

type TokenParams struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// Tokens returned by a code exchange. ExpiresIn is in seconds; zero when the
// provider did not say.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Profile is the provider's view of the user. EmailVerified must only be true
// when the provider asserts the address has been verified.
type Profile struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

var (
	ErrNoAccessToken = errors.New("oauth2: token response has no access token")
	ErrNoProfileID   = errors.New("oauth2: profile has no account id")
)
