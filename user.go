package authkit

import (
	"strings"
	"time"

	"github.com/panyam/authkit/storage"
)

// Storage model names
const (
	ModelUser               = "user"
	ModelPassword           = "password"
	ModelOAuthAccount       = "oauthAccount"
	ModelPasswordResetToken = "passwordResetToken"
)

// User is a distinct identity. Credentials are never part of it.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	Image         string         `json:"image,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// NormalizeEmail lowercases and trims an address. Every lookup and write
// goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var reservedUserFields = map[string]bool{
	"id": true, "email": true, "name": true, "image": true,
	"emailVerified": true, "createdAt": true, "updatedAt": true,
}

func userFromRecord(rec storage.Record, additional []AdditionalField) *User {
	if rec == nil {
		return nil
	}
	u := &User{
		ID:            rec.ID(),
		Email:         rec.String("email"),
		Name:          rec.String("name"),
		Image:         rec.String("image"),
		EmailVerified: rec.Bool("emailVerified"),
		CreatedAt:     rec.Time("createdAt"),
		UpdatedAt:     rec.Time("updatedAt"),
	}
	for _, f := range additional {
		if v, ok := rec[f.Name]; ok {
			if u.Fields == nil {
				u.Fields = map[string]any{}
			}
			u.Fields[f.Name] = v
		}
	}
	return u
}

func userModel(cfg *Config) storage.Model {
	m := storage.Model{Name: ModelUser, Fields: []storage.Field{
		{Name: "id", Type: storage.FieldString, Required: true, Unique: true},
		{Name: "email", Type: storage.FieldString, Required: true, Unique: true},
		{Name: "name", Type: storage.FieldString},
		{Name: "image", Type: storage.FieldString},
		{Name: "emailVerified", Type: storage.FieldBool, Required: true},
		{Name: "createdAt", Type: storage.FieldTime, Required: true},
		{Name: "updatedAt", Type: storage.FieldTime, Required: true},
	}}
	for _, f := range cfg.User.AdditionalFields {
		m.Fields = append(m.Fields, storage.Field{Name: f.Name, Type: f.Type, Required: f.Required})
	}
	return m
}
