package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xoauth2 "golang.org/x/oauth2"

	"github.com/panyam/authkit/oauth2"
	"github.com/panyam/authkit/storage"
)

// OAuthAction says how a successful OAuth sign-in was resolved.
type OAuthAction string

const (
	ActionSignIn        OAuthAction = "sign_in"
	ActionSignUp        OAuthAction = "sign_up"
	ActionAccountLinked OAuthAction = "account_linked"
)

const stateKeyPrefix = "oauth:state:"

// oauthState is the secondary-storage record behind one CSRF state value.
type oauthState struct {
	Provider  string `json:"provider"`
	CreatedAt int64  `json:"createdAt"`
	Verifier  string `json:"verifier,omitempty"`
}

// OAuthAccount links one provider identity to a user.
type OAuthAccount struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	AccessToken       string    `json:"-"`
	RefreshToken      string    `json:"-"`
	ExpiresAt         time.Time `json:"expiresAt"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func accountFromRecord(rec storage.Record) *OAuthAccount {
	if rec == nil {
		return nil
	}
	return &OAuthAccount{
		ID:                rec.ID(),
		UserID:            rec.String("userId"),
		Provider:          rec.String("provider"),
		ProviderAccountID: rec.String("providerAccountId"),
		AccessToken:       rec.String("accessToken"),
		RefreshToken:      rec.String("refreshToken"),
		ExpiresAt:         rec.Time("expiresAt"),
		CreatedAt:         rec.Time("createdAt"),
		UpdatedAt:         rec.Time("updatedAt"),
	}
}

type OAuthSignInInput struct {
	Provider string
	Tokens   *oauth2.Tokens
	Profile  *oauth2.Profile

	// Fields holds additional user fields applied on sign-up only.
	Fields map[string]any

	// Request is passed to creation hooks. May be nil.
	Request *http.Request
}

type OAuthResult struct {
	User    *User
	Action  OAuthAction
	Account *OAuthAccount
}

// OAuthFeature runs the authorization-code flow and account resolution.
type OAuthFeature struct {
	fc  *FeatureContext
	cfg *OAuthConfig
}

func (f *OAuthFeature) Name() string { return "oauth" }

func (f *OAuthFeature) Enabled(cfg *Config) bool { return cfg.OAuth.Enabled }

func (f *OAuthFeature) Schema(cfg *Config) []storage.Model {
	return []storage.Model{
		{Name: ModelOAuthAccount, Fields: []storage.Field{
			{Name: "id", Type: storage.FieldString, Required: true, Unique: true},
			{Name: "userId", Type: storage.FieldString, Required: true},
			{Name: "provider", Type: storage.FieldString, Required: true},
			{Name: "providerAccountId", Type: storage.FieldString, Required: true},
			{Name: "accessToken", Type: storage.FieldString},
			{Name: "refreshToken", Type: storage.FieldString},
			{Name: "expiresAt", Type: storage.FieldTime},
			{Name: "createdAt", Type: storage.FieldTime, Required: true},
			{Name: "updatedAt", Type: storage.FieldTime, Required: true},
		}},
	}
}

func (f *OAuthFeature) Init(fc *FeatureContext) error {
	f.fc = fc
	f.cfg = &fc.Config.OAuth
	return nil
}

func (f *OAuthFeature) fail(e *AuthError) *AuthError { return e.in(f.Name()) }

// Providers returns the configured provider names.
func (f *OAuthFeature) Providers() []string {
	out := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		out = append(out, name)
	}
	return out
}

func (f *OAuthFeature) provider(name string) (OAuthProvider, error) {
	p, ok := f.cfg.Providers[name]
	if !ok {
		return OAuthProvider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// RedirectURI is the callback URL registered with the provider.
func (f *OAuthFeature) RedirectURI(provider string) string {
	return f.cfg.BaseURL + "/auth/" + provider + "/callback"
}

// Initiate stores a fresh CSRF state and returns the provider's consent URL.
func (f *OAuthFeature) Initiate(ctx context.Context, provider string) (string, error) {
	p, err := f.provider(provider)
	if err != nil {
		return "", err
	}
	state, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	st := oauthState{Provider: provider, CreatedAt: f.fc.now().UnixMilli()}
	if !p.DisablePKCE {
		st.Verifier = xoauth2.GenerateVerifier()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	if err := f.fc.Secondary.Set(ctx, stateKeyPrefix+state, string(data), f.cfg.StateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return p.Provider.AuthorizationURL(oauth2.AuthorizationParams{
		ClientID:     p.ClientID,
		RedirectURI:  f.RedirectURI(provider),
		State:        state,
		Scopes:       p.Scopes,
		CodeVerifier: st.Verifier,
	}), nil
}

// consumeState reads and deletes a state in one step. Missing, expired and
// already-used states all come back as nil.
func (f *OAuthFeature) consumeState(ctx context.Context, state string) (*oauthState, error) {
	key := stateKeyPrefix + state
	raw, found, err := storage.Take(ctx, f.fc.Secondary, key)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if !found {
		return nil, nil
	}
	var st oauthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, nil
	}
	if f.fc.now().Sub(time.UnixMilli(st.CreatedAt)) > f.cfg.StateTTL {
		return nil, nil
	}
	return &st, nil
}

func (f *OAuthFeature) failRedirect(sess Session, code ErrorCode) string {
	setFlash(sess, Flash{Feature: f.Name(), Route: "callback", Type: FlashError, Code: string(code)})
	return f.cfg.ErrorURL
}

// Callback completes the flow for provider and returns where to redirect.
// It never returns an error: every failure is flashed and sends the user
// to ErrorURL.
func (f *OAuthFeature) Callback(ctx context.Context, sess Session, provider string, r *http.Request) (redirect string) {
	log := f.fc.Logger.With("feature", f.Name(), "provider", provider)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("oauth callback panicked", "panic", rec)
			redirect = f.failRedirect(sess, ErrCodeOAuthError)
		}
	}()

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Info("provider returned error", "error", e, "description", q.Get("error_description"))
		return f.failRedirect(sess, ErrCodeProviderError)
	}
	state := q.Get("state")
	if state == "" {
		return f.failRedirect(sess, ErrCodeInvalidState)
	}
	st, err := f.consumeState(ctx, state)
	if err != nil {
		log.Warn("oauth state lookup failed", "err", err)
		return f.failRedirect(sess, ErrCodeOAuthError)
	}
	if st == nil || st.Provider != provider {
		return f.failRedirect(sess, ErrCodeInvalidState)
	}
	code := q.Get("code")
	if code == "" {
		return f.failRedirect(sess, ErrCodeProviderError)
	}

	p, err := f.provider(provider)
	if err != nil {
		log.Error("callback for unconfigured provider", "err", err)
		return f.failRedirect(sess, ErrCodeOAuthError)
	}
	tokens, err := p.Provider.ExchangeCode(ctx, oauth2.TokenParams{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Code:         code,
		RedirectURI:  f.RedirectURI(provider),
		CodeVerifier: st.Verifier,
	})
	if err != nil {
		log.Info("code exchange failed", "err", err)
		return f.failRedirect(sess, ErrCodeOAuthError)
	}
	profile, err := p.Provider.UserProfile(ctx, tokens.AccessToken)
	if err != nil {
		log.Info("profile fetch failed", "err", err)
		return f.failRedirect(sess, ErrCodeOAuthError)
	}

	res, err := f.SignIn(ctx, sess, OAuthSignInInput{Provider: provider, Tokens: tokens, Profile: profile, Request: r})
	if err != nil {
		c := CodeOf(err)
		if c == "" {
			log.Warn("oauth sign-in failed", "err", err)
			c = ErrCodeOAuthError
		}
		return f.failRedirect(sess, c)
	}
	setFlash(sess, Flash{Feature: f.Name(), Route: "callback", Type: FlashSuccess, Code: string(res.Action)})
	if res.Action == ActionSignUp {
		return f.cfg.NewUserURL
	}
	return f.cfg.SuccessURL
}

// SignIn resolves a provider identity to a user without any redirects:
// an existing link signs in, a verified matching email links, and anything
// else creates a new user.
func (f *OAuthFeature) SignIn(ctx context.Context, sess Session, in OAuthSignInInput) (*OAuthResult, error) {
	if _, err := f.provider(in.Provider); err != nil {
		return nil, err
	}
	profile := in.Profile
	if profile == nil || profile.ID == "" {
		return nil, f.fail(ErrOAuth)
	}
	tokens := in.Tokens
	if tokens == nil {
		tokens = &oauth2.Tokens{}
	}
	now := f.fc.now()
	log := f.fc.Logger.With("feature", f.Name(), "provider", in.Provider)

	linkWhere := []storage.Where{
		storage.Eq("provider", in.Provider),
		storage.Eq("providerAccountId", profile.ID),
	}
	linkRec, err := f.fc.Storage.FindOne(ctx, ModelOAuthAccount, linkWhere)
	if err != nil {
		return nil, fmt.Errorf("find oauth account: %w", err)
	}

	var user *User
	var action OAuthAction
	if linkRec != nil {
		user, err = f.fc.FindUserByID(ctx, linkRec.String("userId"))
		if err != nil {
			return nil, err
		}
		if user == nil {
			log.Warn("removing oauth link to missing user", "userId", linkRec.String("userId"))
			if err := f.fc.Storage.Delete(ctx, ModelOAuthAccount, []storage.Where{storage.Eq("id", linkRec.ID())}); err != nil {
				return nil, fmt.Errorf("delete oauth account: %w", err)
			}
			linkRec = nil
		} else {
			action = ActionSignIn
		}
	}

	if user == nil {
		email := NormalizeEmail(profile.Email)
		if email == "" {
			return nil, f.fail(ErrEmailRequired)
		}
		existing, err := f.fc.FindUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !profile.EmailVerified {
				return nil, f.fail(ErrAccountUnverified)
			}
			user, action = existing, ActionAccountLinked
			if !user.EmailVerified {
				if updated, err := f.fc.UpdateUser(ctx, user.ID, storage.Record{"emailVerified": true}); err != nil {
					return nil, err
				} else if updated != nil {
					user = updated
				}
			}
		} else {
			extra, err := validateFields(f.fc.Config.User.AdditionalFields, in.Fields)
			if err != nil {
				return nil, err.(*AuthError).in(f.Name())
			}
			user, err = f.fc.CreateUser(ctx, &User{
				Email:         email,
				Name:          profile.Name,
				Image:         profile.AvatarURL,
				EmailVerified: profile.EmailVerified,
			}, extra)
			if err != nil {
				return nil, err
			}
			action = ActionSignUp
		}
	}

	tokenFields := storage.Record{
		"accessToken": tokens.AccessToken,
		"updatedAt":   now,
	}
	if tokens.RefreshToken != "" {
		tokenFields["refreshToken"] = tokens.RefreshToken
	}
	if tokens.ExpiresIn > 0 {
		tokenFields["expiresAt"] = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	if linkRec != nil {
		linkRec, err = f.fc.Storage.Update(ctx, ModelOAuthAccount, []storage.Where{storage.Eq("id", linkRec.ID())}, tokenFields)
		if err != nil {
			return nil, fmt.Errorf("update oauth account: %w", err)
		}
	} else {
		rec := tokenFields.Merge(storage.Record{
			"userId":            user.ID,
			"provider":          in.Provider,
			"providerAccountId": profile.ID,
			"createdAt":         now,
		})
		if linkRec, err = f.fc.Storage.Create(ctx, ModelOAuthAccount, rec); err != nil {
			err = fmt.Errorf("create oauth account: %w", err)
			if action == ActionSignUp {
				err = f.fc.discardUser(ctx, user.ID, err)
			}
			return nil, err
		}
		log.Info("oauth account linked", "userId", user.ID, "action", string(action))
	}

	if err := f.fc.signIn(sess, user); err != nil {
		return nil, err
	}
	if action == ActionSignUp {
		f.fc.userCreated(ctx, user, in.Request)
	}
	return &OAuthResult{User: user, Action: action, Account: accountFromRecord(linkRec)}, nil
}

// Accounts lists the provider links of a user.
func (f *OAuthFeature) Accounts(ctx context.Context, userID string) ([]*OAuthAccount, error) {
	recs, err := f.fc.Storage.FindMany(ctx, ModelOAuthAccount, []storage.Where{storage.Eq("userId", userID)}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list oauth accounts: %w", err)
	}
	out := make([]*OAuthAccount, len(recs))
	for i, rec := range recs {
		out[i] = accountFromRecord(rec)
	}
	return out, nil
}

// Unlink removes the signed-in user's link to provider. The last remaining
// way to sign in cannot be removed.
func (f *OAuthFeature) Unlink(ctx context.Context, sess Session, provider string) error {
	user, err := f.fc.SessionUser(ctx, sess)
	if err != nil {
		return err
	}
	if user == nil {
		return f.fail(ErrNotAuthenticated)
	}
	accounts, err := f.Accounts(ctx, user.ID)
	if err != nil {
		return err
	}
	var target *OAuthAccount
	for _, a := range accounts {
		if a.Provider == provider {
			target = a
			break
		}
	}
	if target == nil {
		return f.fail(ErrAccountNotLinked)
	}
	if len(accounts) == 1 {
		hasPassword := false
		if f.fc.Config.Password.Enabled {
			cred, err := f.fc.Storage.FindOne(ctx, ModelPassword, []storage.Where{storage.Eq("userId", user.ID)})
			if err != nil {
				return fmt.Errorf("find credential: %w", err)
			}
			hasPassword = cred != nil
		}
		if !hasPassword {
			return f.fail(ErrLastSignInMethod)
		}
	}
	if err := f.fc.Storage.Delete(ctx, ModelOAuthAccount, []storage.Where{storage.Eq("id", target.ID)}); err != nil {
		return fmt.Errorf("delete oauth account: %w", err)
	}
	f.fc.Logger.Info("oauth account unlinked", "userId", user.ID, "provider", provider)
	return nil
}
