package authkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/panyam/authkit/oauth2"
	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/storage"
	"github.com/panyam/authkit/stores/memory"
)

// DefaultSessionKey is the session key holding the signed-in user id.
const DefaultSessionKey = "authkit:user"

// Default expiries
const (
	DefaultVerificationExpiry = 24 * time.Hour
	DefaultResetTokenExpiry   = 1 * time.Hour
	DefaultStateTTL           = 10 * time.Minute
	DefaultMinPasswordLength  = 8
)

type Config struct {
	// Secret signs email verification tokens. Falls back to the
	// AUTHKIT_SECRET environment variable.
	Secret string

	// SessionKey is where the signed-in user id is kept. Defaults to
	// DefaultSessionKey.
	SessionKey string

	// Must be passed in
	Storage storage.Adapter

	// Holds rate-limit counters and OAuth state. Defaults to an in-process
	// memory store, which only works for a single instance.
	SecondaryStorage storage.SecondaryStorage

	Password          PasswordConfig
	EmailVerification EmailVerificationConfig
	OAuth             OAuthConfig
	RateLimit         ratelimit.Config
	Hooks             Hooks
	User              UserConfig

	// Defaults to slog.Default()
	Logger *slog.Logger

	// Defaults to time.Now
	Now func() time.Time
}

type PasswordConfig struct {
	Enabled bool

	// Algorithm is one of the passhash algorithm tags. Defaults to pbkdf2-sha256.
	Algorithm string

	// Iterations below the algorithm minimum are raised to it.
	Iterations int

	// MinLength defaults to DefaultMinPasswordLength.
	MinLength int
}

// VerificationMessage is handed to SendVerification for delivery.
type VerificationMessage struct {
	User      *User
	Token     string
	IsNewUser bool
}

type EmailVerificationConfig struct {
	Enabled bool

	// SendVerification delivers the token, usually as a link. Required.
	SendVerification func(ctx context.Context, msg VerificationMessage) error

	// OnVerified is called after a user's email is marked verified.
	OnVerified func(ctx context.Context, user *User) error

	// ExpiresIn defaults to DefaultVerificationExpiry.
	ExpiresIn time.Duration
}

// OAuthProvider binds a provider plugin to this deployment's client credentials.
type OAuthProvider struct {
	Provider     oauth2.Provider
	ClientID     string
	ClientSecret string

	// Scopes replace the provider's defaults when set.
	Scopes []string

	// DisablePKCE omits the S256 code challenge for servers that reject it.
	DisablePKCE bool
}

type OAuthConfig struct {
	Enabled bool

	// Providers keyed by the name used in /auth/{name} routes.
	Providers map[string]OAuthProvider

	// BaseURL is the externally visible origin, e.g. https://app.example.com.
	BaseURL string

	// Redirect targets after the callback. SuccessURL and ErrorURL default
	// to "/"; NewUserURL defaults to SuccessURL.
	SuccessURL string
	NewUserURL string
	ErrorURL   string

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration
}

type Hooks struct {
	// OnUserCreated runs after every enabled feature's creation hook.
	// r is nil for programmatic sign-ups.
	OnUserCreated func(ctx context.Context, user *User, r *http.Request) error
}

type UserConfig struct {
	AdditionalFields []AdditionalField
}

// AdditionalField declares a deployment-specific user field.
type AdditionalField struct {
	Name     string
	Type     storage.FieldType
	Required bool

	// Validate is a go-playground/validator tag applied to the value,
	// e.g. "min=3,max=32".
	Validate string
}

// ensureDefaults fills unset options and rejects unusable configurations.
func (c *Config) ensureDefaults() error {
	if c.Storage == nil {
		return errors.New("authkit: Storage is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.SessionKey == "" {
		c.SessionKey = DefaultSessionKey
	}
	if c.Secret == "" {
		c.Secret = strings.TrimSpace(os.Getenv("AUTHKIT_SECRET"))
	}
	if c.SecondaryStorage == nil {
		c.Logger.Warn("authkit: no SecondaryStorage configured, using in-process memory store")
		c.SecondaryStorage = memory.NewSecondary()
	}

	if c.Password.MinLength <= 0 {
		c.Password.MinLength = DefaultMinPasswordLength
	}

	if c.EmailVerification.Enabled {
		if c.Secret == "" {
			return errors.New("authkit: Secret is required for email verification")
		}
		if c.EmailVerification.SendVerification == nil {
			return errors.New("authkit: EmailVerification.SendVerification is required")
		}
	}
	if c.EmailVerification.ExpiresIn <= 0 {
		c.EmailVerification.ExpiresIn = DefaultVerificationExpiry
	}

	o := &c.OAuth
	if o.Enabled {
		if o.BaseURL == "" {
			return errors.New("authkit: OAuth.BaseURL is required")
		}
		o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
		for name, p := range o.Providers {
			if p.Provider == nil {
				return fmt.Errorf("authkit: OAuth provider %q has no implementation", name)
			}
		}
	}
	if o.SuccessURL == "" {
		o.SuccessURL = "/"
	}
	if o.NewUserURL == "" {
		o.NewUserURL = o.SuccessURL
	}
	if o.ErrorURL == "" {
		o.ErrorURL = "/"
	}
	if o.StateTTL <= 0 {
		o.StateTTL = DefaultStateTTL
	}

	seen := map[string]bool{}
	for _, f := range c.User.AdditionalFields {
		if f.Name == "" || reservedUserFields[f.Name] || seen[f.Name] {
			return fmt.Errorf("authkit: invalid additional user field %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
