package authkit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/panyam/authkit/jwt"
	"github.com/panyam/authkit/storage"
)

const verificationPurpose = "email_verification"

// EmailVerificationFeature issues and checks stateless verification tokens.
// Nothing is stored per token; a token is valid until its exp claim.
type EmailVerificationFeature struct {
	fc *FeatureContext
}

func (f *EmailVerificationFeature) Name() string { return "emailVerification" }

func (f *EmailVerificationFeature) Enabled(cfg *Config) bool { return cfg.EmailVerification.Enabled }

func (f *EmailVerificationFeature) Schema(cfg *Config) []storage.Model { return nil }

func (f *EmailVerificationFeature) Init(fc *FeatureContext) error {
	f.fc = fc
	return nil
}

func (f *EmailVerificationFeature) fail(e *AuthError) *AuthError { return e.in(f.Name()) }

// OnUserCreated delivers a first verification token to new, unverified users.
func (f *EmailVerificationFeature) OnUserCreated(ctx context.Context, user *User, r *http.Request) error {
	if user.EmailVerified {
		return nil
	}
	return f.send(ctx, user, true)
}

// RequestVerification signs a fresh token for email and hands it to
// SendVerification.
func (f *EmailVerificationFeature) RequestVerification(ctx context.Context, email string) error {
	user, err := f.fc.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return f.fail(ErrUserNotFound)
	}
	return f.send(ctx, user, false)
}

// Token returns a signed verification token for email without delivering it.
func (f *EmailVerificationFeature) Token(email string) (string, error) {
	cfg := f.fc.Config
	return jwt.SignAt(map[string]any{
		"email":   NormalizeEmail(email),
		"purpose": verificationPurpose,
	}, cfg.Secret, cfg.EmailVerification.ExpiresIn, f.fc.now())
}

func (f *EmailVerificationFeature) send(ctx context.Context, user *User, isNew bool) error {
	token, err := f.Token(user.Email)
	if err != nil {
		return fmt.Errorf("sign verification token: %w", err)
	}
	msg := VerificationMessage{User: user, Token: token, IsNewUser: isNew}
	if err := f.fc.Config.EmailVerification.SendVerification(ctx, msg); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// Verify checks token, marks the user's email verified and binds the
// session to that user.
func (f *EmailVerificationFeature) Verify(ctx context.Context, sess Session, token string) (*User, error) {
	claims := jwt.VerifyAt(token, f.fc.Config.Secret, f.fc.now())
	if claims == nil || claims["purpose"] != verificationPurpose {
		return nil, f.fail(ErrInvalidOrExpired)
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, f.fail(ErrInvalidOrExpired)
	}
	user, err := f.fc.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, f.fail(ErrUserNotFound)
	}

	if !user.EmailVerified {
		updated, err := f.fc.UpdateUser(ctx, user.ID, storage.Record{"emailVerified": true})
		if err != nil {
			return nil, err
		}
		if updated != nil {
			user = updated
		}
		f.fc.Logger.Info("email verified", "userId", user.ID)
	}
	if err := f.fc.signIn(sess, user); err != nil {
		return nil, err
	}
	if cb := f.fc.Config.EmailVerification.OnVerified; cb != nil {
		if err := cb(ctx, user); err != nil {
			f.fc.Logger.Warn("onVerified callback failed", "userId", user.ID, "err", err)
		}
	}
	return user, nil
}
