package authkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/panyam/authkit/oauth2"
	"github.com/panyam/authkit/passhash"
	"github.com/panyam/authkit/session"
	"github.com/panyam/authkit/storage"
	"github.com/panyam/authkit/stores/memory"
)

const testSecret = "test-secret-0123456789abcdef"

type fixture struct {
	t         *testing.T
	client    *Client
	store     *memory.Adapter
	secondary *memory.Secondary

	mu      sync.Mutex
	now     time.Time
	sent    []VerificationMessage
	created []string
	google  *fakeProvider
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var errDiskFull = errors.New("disk full")

// failingStore fails every Create for one model until failCreates("") is called.
type failingStore struct {
	storage.Adapter

	mu    sync.Mutex
	model string
}

func (s *failingStore) failCreates(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

func (s *failingStore) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	s.mu.Lock()
	fail := s.model != "" && s.model == model
	s.mu.Unlock()
	if fail {
		return nil, errDiskFull
	}
	return s.Adapter.Create(ctx, model, data)
}

// withFailingStore wraps the fixture's memory store for use as a newFixture mutator.
func withFailingStore(s *failingStore) func(cfg *Config) {
	return func(cfg *Config) {
		s.Adapter = cfg.Storage
		cfg.Storage = s
	}
}

// newFixture builds a client with every feature enabled. mutate may adjust
// the config before New runs.
func newFixture(t *testing.T, mutate func(cfg *Config)) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		store:     memory.New(),
		secondary: memory.NewSecondary(),
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		google: &fakeProvider{name: "google", profile: &oauth2.Profile{
			ID: "g-1", Email: "oauth@example.com", EmailVerified: true, Name: "OAuth User",
		}},
	}
	f.secondary.Now = f.clock
	cfg := Config{
		Secret:           testSecret,
		Storage:          f.store,
		SecondaryStorage: f.secondary,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:              f.clock,
		Password: PasswordConfig{
			Enabled:   true,
			Algorithm: passhash.Argon2ID,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled: true,
			SendVerification: func(ctx context.Context, msg VerificationMessage) error {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.sent = append(f.sent, msg)
				f.created = append(f.created, "emailVerification")
				return nil
			},
		},
		OAuth: OAuthConfig{
			Enabled:    true,
			BaseURL:    "https://app.test/",
			SuccessURL: "/home",
			NewUserURL: "/welcome",
			ErrorURL:   "/login",
			Providers: map[string]OAuthProvider{
				"google": {Provider: f.google, ClientID: "cid", ClientSecret: "csecret"},
			},
		},
		Hooks: Hooks{OnUserCreated: func(ctx context.Context, user *User, r *http.Request) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.created = append(f.created, "config")
			return nil
		}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.client = c
	return f
}

func (f *fixture) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fixture) lastSent() VerificationMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		f.t.Fatal("no verification message sent")
	}
	return f.sent[len(f.sent)-1]
}

// signUp creates a password user on a fresh session.
func (f *fixture) signUp(email, password string) (*User, *session.Memory) {
	f.t.Helper()
	sess := session.NewMemory()
	u, err := f.client.Password.SignUp(context.Background(), sess, SignUpInput{Email: email, Password: password}, nil)
	if err != nil {
		f.t.Fatalf("SignUp(%s): %v", email, err)
	}
	return u, sess
}

func (f *fixture) sessionUserID(sess Session) string {
	id, _ := sess.Get(f.client.Config().SessionKey).(string)
	return id
}

func assertCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := CodeOf(err); got != want {
		t.Fatalf("expected code %s, got %q (%v)", want, got, err)
	}
}

// fakeProvider is an in-process oauth2.Provider.
type fakeProvider struct {
	name    string
	profile *oauth2.Profile
	tokens  *oauth2.Tokens

	exchangeErr  error
	panicProfile bool

	mu           sync.Mutex
	lastVerifier string
	lastRedirect string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthorizationURL(params oauth2.AuthorizationParams) string {
	q := url.Values{}
	q.Set("client_id", params.ClientID)
	q.Set("redirect_uri", params.RedirectURI)
	q.Set("state", params.State)
	if params.CodeVerifier != "" {
		q.Set("code_challenge_method", "S256")
	}
	return "https://idp.test/authorize?" + q.Encode()
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, params oauth2.TokenParams) (*oauth2.Tokens, error) {
	p.mu.Lock()
	p.lastVerifier = params.CodeVerifier
	p.lastRedirect = params.RedirectURI
	p.mu.Unlock()
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if p.tokens != nil {
		return p.tokens, nil
	}
	return &oauth2.Tokens{AccessToken: "access-" + params.Code, RefreshToken: "refresh", ExpiresIn: 3600}, nil
}

func (p *fakeProvider) UserProfile(ctx context.Context, accessToken string) (*oauth2.Profile, error) {
	if p.panicProfile {
		panic("provider exploded")
	}
	prof := *p.profile
	return &prof, nil
}
