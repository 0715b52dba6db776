package authkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/session"
)

type recordingMailer struct {
	mu     sync.Mutex
	resets []string
}

func (m *recordingMailer) SendVerificationEmail(ctx context.Context, to, link string) error { return nil }

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, link)
	return nil
}

type routeFixture struct {
	*fixture
	sess    *session.Memory
	handler http.Handler
	mailer  *recordingMailer
}

func newRouteFixture(t *testing.T, mutate func(cfg *Config)) *routeFixture {
	f := newFixture(t, mutate)
	rf := &routeFixture{fixture: f, sess: session.NewMemory(), mailer: &recordingMailer{}}
	rf.handler = f.client.Routes("/auth", RoutesConfig{
		Sessions: func(w http.ResponseWriter, r *http.Request) Session { return rf.sess },
		Mailer:   rf.mailer,
		ResetURL: "https://app.test/reset",
	})
	return rf
}

func (rf *routeFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	rf.t.Helper()
	var req *http.Request
	if body != nil {
		data, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, strings.NewReader(string(data)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	w := httptest.NewRecorder()
	rf.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", w.Body.String())
	}
	return out
}

func TestRoutesPasswordFlow(t *testing.T) {
	rf := newRouteFixture(t, nil)

	w := rf.do(http.MethodPost, "/auth/signup", map[string]any{"email": "alice@example.com", "password": "correct horse"})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", w.Code, w.Body.String())
	}

	w = rf.do(http.MethodPost, "/auth/signup", map[string]any{"email": "alice@example.com", "password": "correct horse"})
	if w.Code != http.StatusConflict || decodeBody(t, w)["code"] != "email_taken" {
		t.Errorf("duplicate signup = %d %s", w.Code, w.Body.String())
	}

	w = rf.do(http.MethodGet, "/auth/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	user, _ := decodeBody(t, w)["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Errorf("me user = %v", user)
	}

	w = rf.do(http.MethodPost, "/auth/signout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("signout status = %d", w.Code)
	}
	rf.sess = session.NewMemory()
	if w = rf.do(http.MethodGet, "/auth/me", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("me after signout = %d", w.Code)
	}

	w = rf.do(http.MethodPost, "/auth/signin", map[string]any{"email": "alice@example.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized || decodeBody(t, w)["code"] != "invalid_credentials" {
		t.Errorf("bad signin = %d %s", w.Code, w.Body.String())
	}
	if w = rf.do(http.MethodPost, "/auth/signin", map[string]any{"email": "alice@example.com", "password": "correct horse"}); w.Code != http.StatusOK {
		t.Errorf("signin = %d %s", w.Code, w.Body.String())
	}
}

func TestRoutesFormBody(t *testing.T) {
	rf := newRouteFixture(t, nil)
	form := url.Values{"email": {"form@example.com"}, "password": {"correct horse"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	rf.handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("form signup = %d %s", w.Code, w.Body.String())
	}
}

func TestRoutesRejectOversizedBody(t *testing.T) {
	rf := newRouteFixture(t, nil)

	w := rf.do(http.MethodPost, "/auth/signin", map[string]any{
		"email":    "alice@example.com",
		"password": strings.Repeat("x", maxBodyBytes+1),
	})
	if w.Code != http.StatusRequestEntityTooLarge || decodeBody(t, w)["code"] != "invalid_request" {
		t.Errorf("oversized sign-in = %d %s", w.Code, w.Body.String())
	}
}

func TestRoutesForgotAndReset(t *testing.T) {
	rf := newRouteFixture(t, nil)
	rf.signUp("alice@example.com", "correct horse")

	if w := rf.do(http.MethodPost, "/auth/password/forgot", map[string]any{"email": "nobody@example.com"}); w.Code != http.StatusOK {
		t.Errorf("forgot for unknown email = %d", w.Code)
	}
	if len(rf.mailer.resets) != 0 {
		t.Fatal("no mail should go to unknown addresses")
	}
	if w := rf.do(http.MethodPost, "/auth/password/forgot", map[string]any{"email": "alice@example.com"}); w.Code != http.StatusOK {
		t.Fatalf("forgot = %d", w.Code)
	}
	if len(rf.mailer.resets) != 1 {
		t.Fatalf("resets sent = %d", len(rf.mailer.resets))
	}
	link, _ := url.Parse(rf.mailer.resets[0])
	token := link.Query().Get("token")
	if link.Host != "app.test" || token == "" {
		t.Fatalf("bad reset link %q", rf.mailer.resets[0])
	}

	w := rf.do(http.MethodPost, "/auth/password/reset", map[string]any{"token": token, "password": "brand new pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d %s", w.Code, w.Body.String())
	}
	w = rf.do(http.MethodPost, "/auth/password/reset", map[string]any{"token": token, "password": "brand new pass"})
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["code"] != "invalid_or_expired_token" {
		t.Errorf("reused token = %d %s", w.Code, w.Body.String())
	}
}

func TestRoutesVerifyEmailRedirect(t *testing.T) {
	f := newFixture(t, nil)
	sess := session.NewMemory()
	h := f.client.Routes("/auth", RoutesConfig{
		Sessions:    func(w http.ResponseWriter, r *http.Request) Session { return sess },
		VerifiedURL: "/verified",
	})
	f.signUp("alice@example.com", "correct horse")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(f.lastSent().Token), nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/verified" {
		t.Fatalf("verify = %d -> %q", w.Code, w.Header().Get("Location"))
	}
	if fl := GetFlash(sess, nil); fl == nil || fl.Type != FlashSuccess || fl.Code != "verified" {
		t.Errorf("flash = %+v", fl)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify-email?token=bogus", nil))
	if fl := GetFlash(sess, nil); fl == nil || fl.Type != FlashError || fl.Code != string(ErrCodeInvalidOrExpired) {
		t.Errorf("flash = %+v", fl)
	}
}

func TestRoutesOAuthFlow(t *testing.T) {
	rf := newRouteFixture(t, nil)

	w := rf.do(http.MethodGet, "/auth/google", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("initiate = %d %s", w.Code, w.Body.String())
	}
	consent, _ := url.Parse(w.Header().Get("Location"))
	if consent.Host != "idp.test" {
		t.Fatalf("consent URL = %s", consent)
	}
	state := consent.Query().Get("state")

	w = rf.do(http.MethodGet, "/auth/google/callback?code=xyz&state="+state, nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/welcome" {
		t.Fatalf("callback = %d -> %q", w.Code, w.Header().Get("Location"))
	}

	w = rf.do(http.MethodGet, "/auth/accounts", nil)
	accounts, _ := decodeBody(t, w)["accounts"].([]any)
	if w.Code != http.StatusOK || len(accounts) != 1 {
		t.Errorf("accounts = %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "access-xyz") {
		t.Error("provider tokens must not be serialized")
	}

	w = rf.do(http.MethodPost, "/auth/google/unlink", nil)
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["code"] != "last_sign_in_method" {
		t.Errorf("unlink = %d %s", w.Code, w.Body.String())
	}

	if w = rf.do(http.MethodGet, "/auth/myspace", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider = %d", w.Code)
	}
	w = rf.do(http.MethodGet, "/auth/myspace/callback?code=x&state=y", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("unknown provider callback = %d -> %q", w.Code, w.Header().Get("Location"))
	}
	fl := GetFlash(rf.sess, &FlashFilter{Feature: "oauth", Route: "callback"})
	if fl == nil || fl.Type != FlashError || fl.Code != string(ErrCodeOAuthError) {
		t.Errorf("unknown provider callback flash = %+v", fl)
	}
}

func TestRoutesRateLimited(t *testing.T) {
	rf := newRouteFixture(t, func(cfg *Config) {
		cfg.RateLimit = ratelimit.Config{
			Enabled: true,
			Rules:   map[string]ratelimit.Rule{"password.*": {Window: 30 * time.Second, Max: 2}},
		}
	})
	body := map[string]any{"email": "alice@example.com", "password": "wrong password"}
	for i := 0; i < 2; i++ {
		if w := rf.do(http.MethodPost, "/auth/signin", body); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d", i, w.Code)
		}
	}
	w := rf.do(http.MethodPost, "/auth/signin", body)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "30" {
		t.Errorf("limited = %d, Retry-After %q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := rf.do(http.MethodGet, "/auth/me", nil); w.Code == http.StatusTooManyRequests {
		t.Error("unrelated operation was limited")
	}

	rf.advance(31 * time.Second)
	if w := rf.do(http.MethodPost, "/auth/signin", body); w.Code != http.StatusUnauthorized {
		t.Errorf("after window = %d", w.Code)
	}
}

func TestRoutesMountOnlyEnabledFeatures(t *testing.T) {
	rf := newRouteFixture(t, func(cfg *Config) {
		cfg.Password.Enabled = false
		cfg.OAuth.Enabled = false
	})
	if w := rf.do(http.MethodPost, "/auth/signup", map[string]any{"email": "a@example.com"}); w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("signup with password disabled = %d", w.Code)
	}
}
