// Package storage defines the persistence contracts the auth engine consumes.
//
// Adapter is a small generic CRUD surface over named models ("user",
// "password", "oauthAccount", "passwordResetToken"). SecondaryStorage is an
// ephemeral key/value store with TTLs, used for rate-limit counters and OAuth
// CSRF state.
//
// Neither interface offers atomic create-if-absent. Sequences like
// FindOne-then-Create are not serialized, so two concurrent sign-ups for the
// same email can both succeed. Adapters backed by a database can close that
// window with a unique index. The same holds for secondary storage: OAuth
// state is consumed with Get then Delete unless the store implements Taker,
// so without it two concurrent callbacks can accept one state.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one stored row keyed by field name.
type Record map[string]any

// Adapter implements persistence for all auth models.
//
// FindOne returns (nil, nil) when nothing matches. Update and Delete act on
// the first matching record; Update returns (nil, nil) when nothing matched
// and Delete is a no-op. Create assigns an "id" when the caller did not.
type Adapter interface {
	FindOne(ctx context.Context, model string, where []Where) (Record, error)

	// FindMany returns matches in insertion order. limit <= 0 means no limit.
	FindMany(ctx context.Context, model string, where []Where, limit, offset int) ([]Record, error)

	Create(ctx context.Context, model string, data Record) (Record, error)
	Update(ctx context.Context, model string, where []Where, data Record) (Record, error)
	Delete(ctx context.Context, model string, where []Where) error
}

// SecondaryStorage is an ephemeral key/value store. Implementations must
// enforce ttl expiry themselves; a ttl of zero means the key never expires.
type SecondaryStorage interface {
	// Get reports found=false for missing or expired keys.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by secondary stores that can read and delete a key
// in one atomic step. Consumers prefer it over Get followed by Delete.
type Taker interface {
	Take(ctx context.Context, key string) (value string, found bool, err error)
}

// Take atomically consumes key when s implements Taker, and otherwise falls
// back to Get followed by Delete.
func Take(ctx context.Context, s SecondaryStorage, key string) (string, bool, error) {
	if t, ok := s.(Taker); ok {
		return t.Take(ctx, key)
	}
	v, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	if err := s.Delete(ctx, key); err != nil {
		return "", false, err
	}
	return v, true, nil
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// FieldType is the declared type of a model field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
	FieldNumber FieldType = "number"
	FieldTime   FieldType = "time"
)

// Field describes one column of a model.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Unique   bool
}

// Model describes a storage model required by a feature.
type Model struct {
	Name   string
	Fields []Field
}

// Field returns the named field, if declared.
func (m Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
