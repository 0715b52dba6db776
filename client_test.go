package authkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/session"
	"github.com/panyam/authkit/storage"
	"github.com/panyam/authkit/stores/memory"
)

func TestNewRequiresStorage(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error without Storage")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := map[string]Config{
		"oauth without base url": {Storage: memory.New(), OAuth: OAuthConfig{Enabled: true}},
		"oauth nil provider": {Storage: memory.New(), OAuth: OAuthConfig{
			Enabled: true, BaseURL: "https://x", Providers: map[string]OAuthProvider{"google": {}},
		}},
		"verification without sender": {Storage: memory.New(), Secret: "s", EmailVerification: EmailVerificationConfig{Enabled: true}},
		"reserved field": {Storage: memory.New(), User: UserConfig{AdditionalFields: []AdditionalField{{Name: "email"}}}},
		"duplicate field": {Storage: memory.New(), User: UserConfig{AdditionalFields: []AdditionalField{{Name: "nick"}, {Name: "nick"}}}},
		"bad algorithm": {Storage: memory.New(), Password: PasswordConfig{Enabled: true, Algorithm: "md5"}},
	}
	for name, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestFeaturesAndHandles(t *testing.T) {
	f := newFixture(t, nil)
	if got := strings.Join(f.client.Features(), ","); got != "password,emailVerification,oauth" {
		t.Errorf("Features() = %s", got)
	}

	c, err := New(Config{Storage: memory.New(), SecondaryStorage: memory.NewSecondary()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Password != nil || c.EmailVerification != nil || c.OAuth != nil {
		t.Error("disabled features must have nil handles")
	}
	if len(c.Features()) != 0 {
		t.Errorf("Features() = %v", c.Features())
	}
}

func TestSchemaMergesModels(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.User.AdditionalFields = []AdditionalField{{Name: "username", Type: storage.FieldString, Required: true}}
	})
	models := map[string]storage.Model{}
	for _, m := range f.client.Schema() {
		if _, dup := models[m.Name]; dup {
			t.Errorf("model %s listed twice", m.Name)
		}
		models[m.Name] = m
	}
	for _, name := range []string{ModelUser, ModelPassword, ModelPasswordResetToken, ModelOAuthAccount} {
		if _, ok := models[name]; !ok {
			t.Errorf("schema missing %s", name)
		}
	}
	if fld, ok := models[ModelUser].Field("username"); !ok || !fld.Required {
		t.Errorf("additional field not in user model: %+v", fld)
	}
}

func TestConfigDefaults(t *testing.T) {
	f := newFixture(t, nil)
	cfg := f.client.Config()
	if cfg.SessionKey != DefaultSessionKey || cfg.Password.MinLength != DefaultMinPasswordLength {
		t.Errorf("defaults not applied: %q %d", cfg.SessionKey, cfg.Password.MinLength)
	}
	if cfg.OAuth.BaseURL != "https://app.test" {
		t.Errorf("BaseURL not trimmed: %q", cfg.OAuth.BaseURL)
	}
	if cfg.OAuth.StateTTL != DefaultStateTTL {
		t.Errorf("StateTTL = %v", cfg.OAuth.StateTTL)
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("AUTHKIT_SECRET", "  from-env  ")
	c, err := New(Config{Storage: memory.New(), SecondaryStorage: memory.NewSecondary()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Config().Secret != "from-env" {
		t.Errorf("Secret = %q", c.Config().Secret)
	}
}

func TestGetUserAndSignOut(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user, sess := f.signUp("alice@example.com", "correct horse")

	got, err := f.client.GetUser(ctx, sess)
	if err != nil || got == nil || got.ID != user.ID {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
	if u, _ := f.client.GetUser(ctx, session.NewMemory()); u != nil {
		t.Error("anonymous session resolved a user")
	}
	if u, _ := f.client.GetUser(ctx, nil); u != nil {
		t.Error("nil session resolved a user")
	}

	if err := f.client.SignOut(ctx, sess); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if !sess.Destroyed() {
		t.Error("session not destroyed")
	}
	if u, _ := f.client.GetUser(ctx, sess); u != nil {
		t.Error("signed-out session still resolves a user")
	}
}

func TestGetUserForDeletedUser(t *testing.T) {
	f := newFixture(t, nil)
	user, sess := f.signUp("alice@example.com", "correct horse")
	if err := f.store.Delete(context.Background(), ModelUser, []storage.Where{storage.Eq("id", user.ID)}); err != nil {
		t.Fatal(err)
	}
	if u, err := f.client.GetUser(context.Background(), sess); u != nil || err != nil {
		t.Errorf("GetUser = %+v, %v; want nil, nil", u, err)
	}
}

func TestHookOrderAndFailureTolerance(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.EmailVerification.SendVerification = func(context.Context, VerificationMessage) error {
			return context.DeadlineExceeded
		}
	})
	user, _ := f.signUp("alice@example.com", "correct horse")
	if user == nil {
		t.Fatal("a failing hook must not fail the sign-up")
	}
	if strings.Join(f.created, ",") != "config" {
		t.Errorf("config hook should still run after a failed feature hook: %v", f.created)
	}
}

func TestFlashFilter(t *testing.T) {
	sess := session.NewMemory()
	setFlash(sess, Flash{Feature: "oauth", Route: "callback", Type: FlashError, Code: "invalid_state"})

	if fl := GetFlash(sess, &FlashFilter{Feature: "password"}); fl != nil {
		t.Errorf("non-matching filter returned %+v", fl)
	}
	fl := GetFlash(sess, &FlashFilter{Feature: "oauth", Route: "callback"})
	if fl == nil || fl.Code != "invalid_state" {
		t.Fatalf("matching filter returned %+v", fl)
	}
	if again := GetFlash(sess, nil); again != nil {
		t.Errorf("flash read twice: %+v", again)
	}
}

func TestClientRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.RateLimit = ratelimit.Config{
			Enabled: true,
			Rules:   map[string]ratelimit.Rule{"password.signIn": {Window: time.Minute, Max: 1}},
		}
	})
	r := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	if res, err := f.client.RateLimit(context.Background(), "password.signIn", r); err != nil || res.Limited {
		t.Fatalf("first request: %+v, %v", res, err)
	}
	res, err := f.client.RateLimit(context.Background(), "password.signIn", r)
	if err != nil || !res.Limited || res.RetryAfter != 60 {
		t.Errorf("second request: %+v, %v", res, err)
	}
}
