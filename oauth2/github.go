package oauth2

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/oauth2/github"
)

type GitHubProvider struct {
	BaseProvider

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string

	// EmailsURL lists the user's addresses with their verification state.
	EmailsURL string
}

func NewGitHubProvider() *GitHubProvider {
	return &GitHubProvider{
		BaseProvider: BaseProvider{
			ProviderName:  "github",
			Endpoint:      github.Endpoint,
			DefaultScopes: []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserProfile reports the primary address as verified only when GitHub's
// emails endpoint says so. The public profile email alone is never trusted.
func (g *GitHubProvider) UserProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var u githubUser
	if err := g.getJSON(ctx, g.UserInfoURL, accessToken, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, ErrNoProfileID
	}
	p := &Profile{
		ID:        strconv.FormatInt(u.ID, 10),
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}
	if p.Name == "" {
		p.Name = u.Login
	}

	var emails []githubEmail
	if err := g.getJSON(ctx, g.EmailsURL, accessToken, &emails); err != nil {
		slog.Info("github emails lookup failed, email left unverified", "err", err)
		return p, nil
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			p.Email = e.Email
			p.EmailVerified = true
			return p, nil
		}
	}
	for _, e := range emails {
		if e.Verified && strings.EqualFold(e.Email, p.Email) {
			p.EmailVerified = true
		}
	}
	return p, nil
}
