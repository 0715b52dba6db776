package authkit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/storage"
)

// Client is the authentication engine. Create one with New and share it
// across requests; it holds no per-request state.
type Client struct {
	config   *Config
	fc       *FeatureContext
	features []Feature
	limiter  *ratelimit.Limiter

	// Feature handles, nil when the feature is disabled.
	Password          *PasswordFeature
	EmailVerification *EmailVerificationFeature
	OAuth             *OAuthFeature
}

func New(cfg Config) (*Client, error) {
	if err := cfg.ensureDefaults(); err != nil {
		return nil, err
	}
	c := &Client{config: &cfg}
	c.limiter = ratelimit.New(cfg.SecondaryStorage, cfg.RateLimit,
		ratelimit.WithClock(cfg.Now), ratelimit.WithLogger(cfg.Logger))
	c.fc = &FeatureContext{
		Config:    &cfg,
		Storage:   cfg.Storage,
		Secondary: cfg.SecondaryStorage,
		Limiter:   c.limiter,
		Logger:    cfg.Logger,
	}

	for _, f := range registry() {
		if !f.Enabled(&cfg) {
			continue
		}
		c.features = append(c.features, f)
		if h, ok := f.(UserCreatedHook); ok {
			c.fc.hooks = append(c.fc.hooks, namedHook{name: f.Name(), fn: h.OnUserCreated})
		}
	}
	if cfg.Hooks.OnUserCreated != nil {
		c.fc.hooks = append(c.fc.hooks, namedHook{name: "config", fn: cfg.Hooks.OnUserCreated})
	}

	for _, f := range c.features {
		if err := f.Init(c.fc); err != nil {
			return nil, fmt.Errorf("authkit: init %s: %w", f.Name(), err)
		}
		switch ft := f.(type) {
		case *PasswordFeature:
			c.Password = ft
		case *EmailVerificationFeature:
			c.EmailVerification = ft
		case *OAuthFeature:
			c.OAuth = ft
		}
	}
	return c, nil
}

// Features returns the names of the enabled features in hook order.
func (c *Client) Features() []string {
	out := make([]string, len(c.features))
	for i, f := range c.features {
		out[i] = f.Name()
	}
	return out
}

// Schema lists every storage model the enabled features need.
func (c *Client) Schema() []storage.Model {
	models := []storage.Model{userModel(c.config)}
	for _, f := range c.features {
		models = append(models, f.Schema(c.config)...)
	}
	return mergeModels(models)
}

// GetUser returns the signed-in user, or nil when the session is anonymous
// or its user no longer exists.
func (c *Client) GetUser(ctx context.Context, sess Session) (*User, error) {
	return c.fc.SessionUser(ctx, sess)
}

func (c *Client) SignOut(ctx context.Context, sess Session) error {
	if sess == nil {
		return nil
	}
	return sess.Destroy()
}

// RateLimit counts one request for operation from r's client IP.
func (c *Client) RateLimit(ctx context.Context, operation string, r *http.Request) (ratelimit.Result, error) {
	return c.limiter.CheckRequest(ctx, operation, r.Header)
}

func (c *Client) GetFlash(sess Session, filter *FlashFilter) *Flash {
	return GetFlash(sess, filter)
}

// Config returns the effective configuration after defaults.
func (c *Client) Config() Config { return *c.config }
