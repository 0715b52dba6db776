package oauth2

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

type GoogleProvider struct {
	BaseProvider

	// APIEndpoint overrides the base URL of the Google OAuth2 API.
	// Can be overridden for testing.
	APIEndpoint string
}

func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{
		BaseProvider: BaseProvider{
			ProviderName: "google",
			Endpoint:     google.Endpoint,
			DefaultScopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
	}
}

func (g *GoogleProvider) UserProfile(ctx context.Context, accessToken string) (*Profile, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(g.exchangeContext(ctx), ts))}
	if g.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.APIEndpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from google: %w", err)
	}
	if info.Id == "" {
		return nil, ErrNoProfileID
	}
	return &Profile{
		ID:            info.Id,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail != nil && *info.VerifiedEmail,
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}
