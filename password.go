package authkit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/panyam/authkit/passhash"
	"github.com/panyam/authkit/storage"
)

// PasswordFeature implements email and password accounts.
type PasswordFeature struct {
	fc        *FeatureContext
	hasher    *passhash.Hasher
	minLength int

	dummyOnce sync.Once
	dummyHash string
}

type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Image    string

	// Fields holds values for the configured additional user fields.
	Fields map[string]any
}

// ResetToken is returned to the caller for delivery. The stored copy is hashed.
type ResetToken struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

func (f *PasswordFeature) Name() string { return "password" }

func (f *PasswordFeature) Enabled(cfg *Config) bool { return cfg.Password.Enabled }

func (f *PasswordFeature) Schema(cfg *Config) []storage.Model {
	return []storage.Model{
		{Name: ModelPassword, Fields: []storage.Field{
			{Name: "id", Type: storage.FieldString, Required: true, Unique: true},
			{Name: "userId", Type: storage.FieldString, Required: true, Unique: true},
			{Name: "hashedPassword", Type: storage.FieldString, Required: true},
		}},
		{Name: ModelPasswordResetToken, Fields: []storage.Field{
			{Name: "id", Type: storage.FieldString, Required: true, Unique: true},
			{Name: "token", Type: storage.FieldString, Required: true, Unique: true},
			{Name: "userId", Type: storage.FieldString, Required: true},
			{Name: "expiresAt", Type: storage.FieldTime, Required: true},
			{Name: "createdAt", Type: storage.FieldTime, Required: true},
		}},
	}
}

func (f *PasswordFeature) Init(fc *FeatureContext) error {
	h, err := passhash.New(fc.Config.Password.Algorithm, fc.Config.Password.Iterations)
	if err != nil {
		return err
	}
	f.fc = fc
	f.hasher = h
	f.minLength = fc.Config.Password.MinLength
	return nil
}

func (f *PasswordFeature) fail(e *AuthError) *AuthError { return e.in(f.Name()) }

func (f *PasswordFeature) credential(ctx context.Context, userID string) (storage.Record, error) {
	rec, err := f.fc.Storage.FindOne(ctx, ModelPassword, []storage.Where{storage.Eq("userId", userID)})
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return rec, nil
}

func (f *PasswordFeature) checkStrength(password string) error {
	if len([]rune(password)) < f.minLength {
		return f.fail(NewAuthError(ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters", f.minLength), "password"))
	}
	return nil
}

// burnVerify spends the same time as a real verification so that a missing
// account is not distinguishable by latency.
func (f *PasswordFeature) burnVerify(password string) {
	f.dummyOnce.Do(func() {
		f.dummyHash, _ = f.hasher.Hash("authkit-dummy-password")
	})
	passhash.Verify(password, f.dummyHash)
}

// SignUp creates a user with a password credential and signs them in.
// r is passed through to creation hooks and may be nil.
func (f *PasswordFeature) SignUp(ctx context.Context, sess Session, in SignUpInput, r *http.Request) (*User, error) {
	email := NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, f.fail(ErrInvalidEmail)
	}
	existing, err := f.fc.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, f.fail(ErrEmailTaken)
	}
	if err := f.checkStrength(in.Password); err != nil {
		return nil, err
	}
	extra, err := validateFields(f.fc.Config.User.AdditionalFields, in.Fields)
	if err != nil {
		return nil, err.(*AuthError).in(f.Name())
	}

	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user, err := f.fc.CreateUser(ctx, &User{Email: email, Name: in.Name, Image: in.Image}, extra)
	if err != nil {
		return nil, err
	}
	if _, err := f.fc.Storage.Create(ctx, ModelPassword, storage.Record{
		"userId":         user.ID,
		"hashedPassword": hash,
	}); err != nil {
		return nil, f.fc.discardUser(ctx, user.ID, fmt.Errorf("create credential: %w", err))
	}
	f.fc.Logger.Info("user signed up", "feature", f.Name(), "userId", user.ID)

	if err := f.fc.signIn(sess, user); err != nil {
		return nil, err
	}
	f.fc.userCreated(ctx, user, r)
	return user, nil
}

// SignIn verifies email and password. Every failure is ErrInvalidCredentials.
func (f *PasswordFeature) SignIn(ctx context.Context, sess Session, email, password string) (*User, error) {
	user, err := f.fc.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var cred storage.Record
	if user != nil {
		if cred, err = f.credential(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	if cred == nil {
		f.burnVerify(password)
		return nil, f.fail(ErrInvalidCredentials)
	}
	stored := cred.String("hashedPassword")
	if !passhash.Verify(password, stored) {
		return nil, f.fail(ErrInvalidCredentials)
	}

	if f.hasher.NeedsRehash(stored) {
		if err := f.storeHash(ctx, user.ID, password); err != nil {
			f.fc.Logger.Warn("password rehash failed", "userId", user.ID, "err", err)
		}
	}
	if err := f.fc.signIn(sess, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (f *PasswordFeature) storeHash(ctx context.Context, userID, password string) error {
	hash, err := f.hasher.Hash(password)
	if err != nil {
		return err
	}
	_, err = f.fc.Storage.Update(ctx, ModelPassword,
		[]storage.Where{storage.Eq("userId", userID)},
		storage.Record{"hashedPassword": hash})
	return err
}

// Change replaces the signed-in user's password. The session is kept.
func (f *PasswordFeature) Change(ctx context.Context, sess Session, current, next string) error {
	user, err := f.fc.SessionUser(ctx, sess)
	if err != nil {
		return err
	}
	if user == nil {
		return f.fail(ErrNotAuthenticated)
	}
	cred, err := f.credential(ctx, user.ID)
	if err != nil {
		return err
	}
	if cred == nil {
		return f.fail(ErrNoPassword)
	}
	if !passhash.Verify(current, cred.String("hashedPassword")) {
		return f.fail(ErrInvalidPassword)
	}
	if err := f.checkStrength(next); err != nil {
		return err
	}
	if err := f.storeHash(ctx, user.ID, next); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

// Set adds a first password to an account that has none, such as one
// created through OAuth.
func (f *PasswordFeature) Set(ctx context.Context, sess Session, password string) error {
	user, err := f.fc.SessionUser(ctx, sess)
	if err != nil {
		return err
	}
	if user == nil {
		return f.fail(ErrNotAuthenticated)
	}
	cred, err := f.credential(ctx, user.ID)
	if err != nil {
		return err
	}
	if cred != nil {
		return f.fail(ErrPasswordAlreadySet)
	}
	if err := f.checkStrength(password); err != nil {
		return err
	}
	hash, err := f.hasher.Hash(password)
	if err != nil {
		return err
	}
	if _, err := f.fc.Storage.Create(ctx, ModelPassword, storage.Record{
		"userId":         user.ID,
		"hashedPassword": hash,
	}); err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// GetResetToken issues a single-use reset token. Delivery is the caller's job.
func (f *PasswordFeature) GetResetToken(ctx context.Context, email string) (*ResetToken, error) {
	user, err := f.fc.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, f.fail(ErrUserNotFound)
	}
	cred, err := f.credential(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, f.fail(ErrUserNotFound)
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := f.fc.now()
	expiresAt := now.Add(DefaultResetTokenExpiry)
	if _, err := f.fc.Storage.Create(ctx, ModelPasswordResetToken, storage.Record{
		"token":     hashToken(token),
		"userId":    user.ID,
		"expiresAt": expiresAt,
		"createdAt": now,
	}); err != nil {
		return nil, fmt.Errorf("create reset token: %w", err)
	}
	return &ResetToken{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Reset consumes token and sets a new password. Unknown, used and expired
// tokens all fail with ErrInvalidOrExpired.
func (f *PasswordFeature) Reset(ctx context.Context, sess Session, token, password string) (*User, error) {
	if token == "" {
		return nil, f.fail(ErrInvalidOrExpired)
	}
	if err := f.checkStrength(password); err != nil {
		return nil, err
	}
	where := []storage.Where{storage.Eq("token", hashToken(token))}
	rec, err := f.fc.Storage.FindOne(ctx, ModelPasswordResetToken, where)
	if err != nil {
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	if rec == nil {
		return nil, f.fail(ErrInvalidOrExpired)
	}
	// Consumed before anything else can fail, so a token never works twice.
	if err := f.fc.Storage.Delete(ctx, ModelPasswordResetToken, []storage.Where{storage.Eq("id", rec.ID())}); err != nil {
		return nil, fmt.Errorf("delete reset token: %w", err)
	}
	if rec.Time("expiresAt").Before(f.fc.now()) {
		return nil, f.fail(ErrInvalidOrExpired)
	}
	user, err := f.fc.FindUserByID(ctx, rec.String("userId"))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, f.fail(ErrInvalidOrExpired)
	}

	cred, err := f.credential(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		hash, err := f.hasher.Hash(password)
		if err != nil {
			return nil, err
		}
		if _, err := f.fc.Storage.Create(ctx, ModelPassword, storage.Record{"userId": user.ID, "hashedPassword": hash}); err != nil {
			return nil, fmt.Errorf("create credential: %w", err)
		}
	} else if err := f.storeHash(ctx, user.ID, password); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}

	if err := f.fc.signIn(sess, user); err != nil {
		return nil, err
	}
	return user, nil
}
