package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// BaseProvider implements the authorization-code leg for any provider with a
// standard token endpoint. Concrete providers embed it and add UserProfile.
type BaseProvider struct {
	ProviderName  string
	Endpoint      oauth2.Endpoint
	DefaultScopes []string

	// HTTPClient is used for token exchange and profile calls.
	// Defaults to http.DefaultClient. Can be overridden for testing.
	HTTPClient *http.Client
}

func (b *BaseProvider) Name() string { return b.ProviderName }

// SetHTTPClient sets a custom HTTP client for outbound requests
func (b *BaseProvider) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// SetOAuthEndpoint overrides the authorization and token URLs
func (b *BaseProvider) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.Endpoint = endpoint
}

func (b *BaseProvider) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// exchangeContext carries the injected client into x/oauth2.
func (b *BaseProvider) exchangeContext(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

func (b *BaseProvider) config(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = b.DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     b.Endpoint,
	}
}

func (b *BaseProvider) AuthorizationURL(p AuthorizationParams) string {
	var opts []oauth2.AuthCodeOption
	if p.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(p.CodeVerifier))
	}
	return b.config(p.ClientID, "", p.RedirectURI, p.Scopes).AuthCodeURL(p.State, opts...)
}

func (b *BaseProvider) ExchangeCode(ctx context.Context, p TokenParams) (*Tokens, error) {
	var opts []oauth2.AuthCodeOption
	if p.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(p.CodeVerifier))
	}
	cfg := b.config(p.ClientID, p.ClientSecret, p.RedirectURI, nil)
	token, err := cfg.Exchange(b.exchangeContext(ctx), p.Code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange: %w", b.ProviderName, err)
	}
	if token.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	out := &Tokens{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if token.ExpiresIn > 0 {
		out.ExpiresIn = token.ExpiresIn
	} else if !token.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return out, nil
}

// getJSON issues an authenticated GET and decodes the JSON body into out.
func (b *BaseProvider) getJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	response, err := b.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed getting %s: %w", url, err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", url, response.StatusCode, contents)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
