package authkit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/panyam/authkit/session"
)

func TestMiddleware(t *testing.T) {
	f := newFixture(t, nil)
	user, signedIn := f.signUp("alice@example.com", "correct horse")
	anonymous := session.NewMemory()

	var current Session
	mw := &Middleware{
		Client:   f.client,
		Sessions: func(w http.ResponseWriter, r *http.Request) Session { return current },
	}
	var seen *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	})

	t.Run("ExtractUser anonymous", func(t *testing.T) {
		current, seen = anonymous, nil
		w := httptest.NewRecorder()
		mw.ExtractUser(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK || seen != nil {
			t.Errorf("status %d, user %+v", w.Code, seen)
		}
	})

	t.Run("ExtractUser signed in", func(t *testing.T) {
		current, seen = signedIn, nil
		mw.ExtractUser(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == nil || seen.ID != user.ID {
			t.Errorf("user = %+v", seen)
		}
	})

	t.Run("EnsureUser 401", func(t *testing.T) {
		current, seen = anonymous, nil
		w := httptest.NewRecorder()
		mw.EnsureUser(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
		if w.Code != http.StatusUnauthorized || seen != nil {
			t.Errorf("status %d", w.Code)
		}
	})

	t.Run("EnsureUser redirect", func(t *testing.T) {
		current = anonymous
		redirecting := *mw
		redirecting.LoginURL = "/login"
		w := httptest.NewRecorder()
		redirecting.EnsureUser(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private%20page", nil))
		if w.Code != http.StatusFound || w.Header().Get("Location") != "/login?callbackURL=%2Fprivate%2520page" {
			t.Errorf("status %d -> %q", w.Code, w.Header().Get("Location"))
		}
	})

	t.Run("EnsureUser signed in", func(t *testing.T) {
		current, seen = signedIn, nil
		mw.EnsureUser(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/private", nil))
		if seen == nil || seen.ID != user.ID {
			t.Errorf("user = %+v", seen)
		}
	})
}

func TestConsoleEmailSender(t *testing.T) {
	var buf bytes.Buffer
	sender := &ConsoleEmailSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	send := VerificationSender(sender, "https://app.test/auth/verify-email")

	err := send(context.Background(), VerificationMessage{User: &User{Email: "a@example.com"}, Token: "a.b+c"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "to=a@example.com") || !strings.Contains(out, "https://app.test/auth/verify-email?token=a.b%2Bc") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestWithToken(t *testing.T) {
	if got := withToken("/reset?lang=en", "x"); got != "/reset?lang=en&token=x" {
		t.Errorf("withToken = %q", got)
	}
}
