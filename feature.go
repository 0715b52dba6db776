package authkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/storage"
)

// Feature is one optional authentication capability. The set of features
// is fixed; configuration decides which of them are enabled.
type Feature interface {
	Name() string
	Enabled(cfg *Config) bool

	// Schema lists the storage models the feature reads or writes.
	Schema(cfg *Config) []storage.Model

	Init(fc *FeatureContext) error
}

// UserCreatedHook is implemented by features that react to new users.
type UserCreatedHook interface {
	OnUserCreated(ctx context.Context, user *User, r *http.Request) error
}

type userCreatedFunc func(ctx context.Context, user *User, r *http.Request) error

// registry returns fresh feature instances in hook order.
func registry() []Feature {
	return []Feature{
		&PasswordFeature{},
		&EmailVerificationFeature{},
		&OAuthFeature{},
	}
}

// FeatureContext is shared by all enabled features of one Client.
type FeatureContext struct {
	Config    *Config
	Storage   storage.Adapter
	Secondary storage.SecondaryStorage
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger

	hooks []namedHook
}

type namedHook struct {
	name string
	fn   userCreatedFunc
}

func (fc *FeatureContext) now() time.Time { return fc.Config.Now() }

// userCreated runs the composed creation hook. Hook failures are logged and
// never undo the creation.
func (fc *FeatureContext) userCreated(ctx context.Context, user *User, r *http.Request) {
	for _, h := range fc.hooks {
		if err := h.fn(ctx, user, r); err != nil {
			fc.Logger.Warn("user created hook failed", "hook", h.name, "userId", user.ID, "err", err)
		}
	}
}

func (fc *FeatureContext) findUser(ctx context.Context, where ...storage.Where) (*User, error) {
	rec, err := fc.Storage.FindOne(ctx, ModelUser, where)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return userFromRecord(rec, fc.Config.User.AdditionalFields), nil
}

func (fc *FeatureContext) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return fc.findUser(ctx, storage.Eq("email", email))
}

func (fc *FeatureContext) FindUserByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	return fc.findUser(ctx, storage.Eq("id", id))
}

// CreateUser stores a new user. It does not run creation hooks.
func (fc *FeatureContext) CreateUser(ctx context.Context, u *User, extra storage.Record) (*User, error) {
	now := fc.now()
	rec := storage.Record{
		"email":         NormalizeEmail(u.Email),
		"name":          u.Name,
		"image":         u.Image,
		"emailVerified": u.EmailVerified,
		"createdAt":     now,
		"updatedAt":     now,
	}
	for k, v := range extra {
		if !reservedUserFields[k] {
			rec[k] = v
		}
	}
	created, err := fc.Storage.Create(ctx, ModelUser, rec)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return userFromRecord(created, fc.Config.User.AdditionalFields), nil
}

// UpdateUser merges data into the stored user and bumps updatedAt.
func (fc *FeatureContext) UpdateUser(ctx context.Context, id string, data storage.Record) (*User, error) {
	data = data.Merge(storage.Record{"updatedAt": fc.now()})
	rec, err := fc.Storage.Update(ctx, ModelUser, []storage.Where{storage.Eq("id", id)}, data)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return userFromRecord(rec, fc.Config.User.AdditionalFields), nil
}

// SessionUser resolves the signed-in user, or nil.
func (fc *FeatureContext) SessionUser(ctx context.Context, sess Session) (*User, error) {
	if sess == nil {
		return nil, nil
	}
	id, _ := sess.Get(fc.Config.SessionKey).(string)
	return fc.FindUserByID(ctx, id)
}

// signIn rotates the session id and binds it to user.
func (fc *FeatureContext) signIn(sess Session, user *User) error {
	if sess == nil {
		return nil
	}
	if err := sess.RegenerateID(true); err != nil {
		return fmt.Errorf("regenerate session: %w", err)
	}
	sess.Set(fc.Config.SessionKey, user.ID)
	return nil
}

// discardUser deletes a user whose sign-up failed after the user record was
// written, so the email stays available. cause is returned unchanged.
func (fc *FeatureContext) discardUser(ctx context.Context, id string, cause error) error {
	if err := fc.Storage.Delete(ctx, ModelUser, []storage.Where{storage.Eq("id", id)}); err != nil {
		fc.Logger.Error("failed to remove partially created user", "userId", id, "err", err)
	}
	return cause
}

// mergeModels combines models with the same name, keeping first-seen field order.
func mergeModels(models []storage.Model) []storage.Model {
	var out []storage.Model
	index := map[string]int{}
	for _, m := range models {
		i, ok := index[m.Name]
		if !ok {
			index[m.Name] = len(out)
			out = append(out, storage.Model{Name: m.Name, Fields: append([]storage.Field(nil), m.Fields...)})
			continue
		}
		for _, f := range m.Fields {
			if _, dup := out[i].Field(f.Name); !dup {
				out[i].Fields = append(out[i].Fields, f)
			}
		}
	}
	return out
}
