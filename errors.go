package authkit

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable failure reason. The set is closed: every
// expected failure of a feature operation carries one of these codes.
type ErrorCode string

// Password feature
const (
	ErrCodeEmailTaken          ErrorCode = "email_taken"
	ErrCodeInvalidCredentials  ErrorCode = "invalid_credentials"
	ErrCodeNotAuthenticated    ErrorCode = "not_authenticated"
	ErrCodeNoPassword          ErrorCode = "no_password"
	ErrCodeInvalidPassword     ErrorCode = "invalid_password"
	ErrCodePasswordAlreadySet  ErrorCode = "password_already_set"
	ErrCodeUserNotFound        ErrorCode = "user_not_found"
	ErrCodeInvalidOrExpired    ErrorCode = "invalid_or_expired_token"
	ErrCodeInvalidEmail        ErrorCode = "invalid_email"
	ErrCodeWeakPassword        ErrorCode = "weak_password"
	ErrCodeInvalidField        ErrorCode = "invalid_field"
)

// OAuth feature
const (
	ErrCodeInvalidState                 ErrorCode = "invalid_state"
	ErrCodeProviderError                ErrorCode = "provider_error"
	ErrCodeAccountExistsUnverifiedEmail ErrorCode = "account_exists_unverified_email"
	ErrCodeOAuthError                   ErrorCode = "oauth_error"
	ErrCodeEmailRequired                ErrorCode = "email_required"
	ErrCodeLastSignInMethod             ErrorCode = "last_sign_in_method"
	ErrCodeAccountNotLinked             ErrorCode = "account_not_linked"
)

// AuthError is returned for every expected failure of a feature operation.
// Compare with errors.Is against the Err* sentinels; only Code is compared.
type AuthError struct {
	Feature string    `json:"feature,omitempty"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// NewAuthError creates a new AuthError
func NewAuthError(code ErrorCode, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("%s: %s", e.Feature, e.Message)
	}
	return e.Message
}

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

func (e *AuthError) in(feature string) *AuthError {
	out := *e
	out.Feature = feature
	return &out
}

var (
	ErrEmailTaken          = NewAuthError(ErrCodeEmailTaken, "An account with this email already exists", "email")
	ErrInvalidCredentials  = NewAuthError(ErrCodeInvalidCredentials, "Invalid email or password", "")
	ErrNotAuthenticated    = NewAuthError(ErrCodeNotAuthenticated, "Not signed in", "")
	ErrNoPassword          = NewAuthError(ErrCodeNoPassword, "This account has no password", "")
	ErrInvalidPassword     = NewAuthError(ErrCodeInvalidPassword, "Current password is incorrect", "currentPassword")
	ErrPasswordAlreadySet  = NewAuthError(ErrCodePasswordAlreadySet, "This account already has a password", "")
	ErrUserNotFound        = NewAuthError(ErrCodeUserNotFound, "User not found", "email")
	ErrInvalidOrExpired    = NewAuthError(ErrCodeInvalidOrExpired, "Invalid or expired token", "token")
	ErrInvalidEmail        = NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	ErrWeakPassword        = NewAuthError(ErrCodeWeakPassword, "Password is too short", "password")
	ErrInvalidField        = NewAuthError(ErrCodeInvalidField, "Invalid field", "")
	ErrInvalidState        = NewAuthError(ErrCodeInvalidState, "Invalid or expired OAuth state", "")
	ErrProviderError       = NewAuthError(ErrCodeProviderError, "The provider did not return an authorization code", "")
	ErrAccountUnverified   = NewAuthError(ErrCodeAccountExistsUnverifiedEmail, "An account with this email exists but the provider has not verified it", "")
	ErrOAuth               = NewAuthError(ErrCodeOAuthError, "OAuth sign-in failed", "")
	ErrEmailRequired       = NewAuthError(ErrCodeEmailRequired, "The provider did not return an email address", "")
	ErrLastSignInMethod    = NewAuthError(ErrCodeLastSignInMethod, "Cannot remove the only sign-in method", "")
	ErrAccountNotLinked    = NewAuthError(ErrCodeAccountNotLinked, "No account is linked for this provider", "")
)

// ErrUnknownProvider is a programming error: the named provider is not configured.
var ErrUnknownProvider = errors.New("authkit: unknown oauth provider")

// CodeOf returns the ErrorCode carried by err, or "" when err is not an AuthError.
func CodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
