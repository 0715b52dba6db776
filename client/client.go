// Package client is a Go client for the JSON routes served by
// authkit.Client.Routes. It keeps the session cookie in a cookie jar, so one
// Client is one signed-in browser.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"

	"github.com/panyam/authkit"
)

// RateLimitedError is returned when the server answered 429.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
}

// Client talks to one authkit mount point, e.g. https://app.example.com/auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets the base HTTP client (timeouts, TLS, transport).
// A cookie jar is added when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			copied := *hc
			c.httpClient = &copied
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	// Redirects are answers here, not something to follow.
	c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c, nil
}

// HTTPClient returns the client carrying the session cookie, for calling
// the host application's own endpoints.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

type userResponse struct {
	User *authkit.User `json:"user"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitedError{RetryAfter: retry}
	}
	if resp.StatusCode >= 400 {
		var ae authkit.AuthError
		if json.Unmarshal(data, &ae) == nil && ae.Code != "" {
			return &ae
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

func (c *Client) user(ctx context.Context, method, path string, body any) (*authkit.User, error) {
	var out userResponse
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, errors.New("response has no user")
	}
	return out.User, nil
}

func (c *Client) SignUp(ctx context.Context, in authkit.SignUpInput) (*authkit.User, error) {
	return c.user(ctx, http.MethodPost, "/signup", map[string]any{
		"email":    in.Email,
		"password": in.Password,
		"name":     in.Name,
		"image":    in.Image,
		"fields":   in.Fields,
	})
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*authkit.User, error) {
	return c.user(ctx, http.MethodPost, "/signin", map[string]string{"email": email, "password": password})
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/signout", nil, nil)
}

// Me returns the signed-in user. Anonymous sessions get a not_authenticated
// *authkit.AuthError.
func (c *Client) Me(ctx context.Context) (*authkit.User, error) {
	return c.user(ctx, http.MethodGet, "/me", nil)
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPost, "/password/change", map[string]string{"currentPassword": current, "newPassword": next}, nil)
}

func (c *Client) SetPassword(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/password/set", map[string]string{"password": password}, nil)
}

// ForgotPassword asks for a reset link. It succeeds for unknown addresses too.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/password/forgot", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) (*authkit.User, error) {
	return c.user(ctx, http.MethodPost, "/password/reset", map[string]string{"token": token, "password": password})
}

// RequestVerification resends the verification email. An empty email means
// the signed-in user.
func (c *Client) RequestVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/verify-email/request", map[string]string{"email": email}, nil)
}

func (c *Client) Accounts(ctx context.Context) ([]*authkit.OAuthAccount, error) {
	var out struct {
		Accounts []*authkit.OAuthAccount `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

func (c *Client) Unlink(ctx context.Context, provider string) error {
	return c.do(ctx, http.MethodPost, "/"+provider+"/unlink", nil, nil)
}
