package authkit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type userContextKey struct{}

// Middleware loads the signed-in user into the request context.
type Middleware struct {
	Client   *Client
	Sessions SessionFunc

	// LoginURL is where EnsureUser sends anonymous requests. When empty
	// they get a 401 instead.
	LoginURL string

	// CallbackURLParam carries the original path to LoginURL.
	// Defaults to "callbackURL".
	CallbackURLParam string
}

// UserFromContext returns the user stored by ExtractUser or EnsureUser.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey{}).(*User)
	return u
}

func withUser(r *http.Request, u *User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey{}, u))
}

func (m *Middleware) loggedInUser(w http.ResponseWriter, r *http.Request) *User {
	user, err := m.Client.GetUser(r.Context(), m.Sessions(w, r))
	if err != nil {
		m.Client.fc.Logger.Warn("could not load session user", "err", err)
		return nil
	}
	return user
}

// ExtractUser makes the signed-in user, if any, available through
// UserFromContext. It never rejects a request; use EnsureUser for that.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := m.loggedInUser(w, r); user != nil {
			r = withUser(r, user)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.loggedInUser(w, r)
		if user != nil {
			next.ServeHTTP(w, withUser(r, user))
			return
		}
		if m.LoginURL == "" {
			http.Error(w, "Login Required", http.StatusUnauthorized)
			return
		}
		param := m.CallbackURLParam
		if param == "" {
			param = "callbackURL"
		}
		encoded := strings.ReplaceAll(url.QueryEscape(r.URL.RequestURI()), "+", "%20")
		http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", m.LoginURL, param, encoded), http.StatusFound)
	})
}
