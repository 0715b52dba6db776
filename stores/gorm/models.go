//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value any) error {
	decoded, err := decodeJSONMap(value)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

func decodeJSONMap(value any) (JSONMap, error) {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case JSONMap:
		return v, nil
	case map[string]any:
		return JSONMap(v), nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, fmt.Errorf("gorm: cannot decode %T as JSON map", value)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out JSONMap
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserModel is the GORM model for users
type UserModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Email         string `gorm:"size:320;uniqueIndex"`
	Name          string
	Image         string
	EmailVerified bool      `gorm:"default:false"`
	Extra         JSONMap   `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// PasswordModel is the GORM model for password credentials
type PasswordModel struct {
	ID             string  `gorm:"primaryKey;size:64"`
	UserID         string  `gorm:"size:64;uniqueIndex"`
	HashedPassword string  `gorm:"size:512"`
	Extra          JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (PasswordModel) TableName() string {
	return "passwords"
}

// OAuthAccountModel is the GORM model for provider account links
type OAuthAccountModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	UserID            string `gorm:"size:64;index"`
	Provider          string `gorm:"size:32;uniqueIndex:idx_provider_account"`
	ProviderAccountID string `gorm:"size:255;uniqueIndex:idx_provider_account"`
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	Extra             JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (OAuthAccountModel) TableName() string {
	return "oauth_accounts"
}

// PasswordResetTokenModel is the GORM model for password reset tokens
type PasswordResetTokenModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Token     string    `gorm:"size:128;uniqueIndex"`
	UserID    string    `gorm:"size:64;index"`
	ExpiresAt time.Time `gorm:"index"`
	Extra     JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (PasswordResetTokenModel) TableName() string {
	return "password_reset_tokens"
}

// table maps one storage model onto its SQL table.
type table struct {
	name    string
	model   any
	columns map[string]string // record field -> column
}

var tables = map[string]table{
	"user": {
		name:  "users",
		model: &UserModel{},
		columns: map[string]string{
			"id":            "id",
			"email":         "email",
			"name":          "name",
			"image":         "image",
			"emailVerified": "email_verified",
			"createdAt":     "created_at",
			"updatedAt":     "updated_at",
		},
	},
	"password": {
		name:  "passwords",
		model: &PasswordModel{},
		columns: map[string]string{
			"id":             "id",
			"userId":         "user_id",
			"hashedPassword": "hashed_password",
		},
	},
	"oauthAccount": {
		name:  "oauth_accounts",
		model: &OAuthAccountModel{},
		columns: map[string]string{
			"id":                "id",
			"userId":            "user_id",
			"provider":          "provider",
			"providerAccountId": "provider_account_id",
			"accessToken":       "access_token",
			"refreshToken":      "refresh_token",
			"expiresAt":         "expires_at",
			"createdAt":         "created_at",
			"updatedAt":         "updated_at",
		},
	},
	"passwordResetToken": {
		name:  "password_reset_tokens",
		model: &PasswordResetTokenModel{},
		columns: map[string]string{
			"id":        "id",
			"token":     "token",
			"userId":    "user_id",
			"expiresAt": "expires_at",
			"createdAt": "created_at",
		},
	},
}

func lookupTable(model string) (table, error) {
	t, ok := tables[model]
	if !ok {
		return table{}, fmt.Errorf("gorm: unknown model %q", model)
	}
	return t, nil
}
