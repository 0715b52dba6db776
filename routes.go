package authkit

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// RoutesConfig wires the HTTP adapter to the host application.
type RoutesConfig struct {
	// Sessions is required.
	Sessions SessionFunc

	// Mailer delivers password reset links. POST /password/forgot is only
	// mounted when it is set.
	Mailer EmailSender

	// ResetURL is the page that receives reset tokens as ?token=.
	ResetURL string

	// VerifiedURL, when set, makes GET /verify-email flash its outcome and
	// redirect there instead of answering with JSON.
	VerifiedURL string
}

type routes struct {
	c  *Client
	rc RoutesConfig
}

// Routes returns a JSON-over-HTTP adapter for the enabled features, mounted
// under prefix (usually "/auth", matching the OAuth redirect URI). Every
// route is rate limited by client IP before it runs.
func (c *Client) Routes(prefix string, rc RoutesConfig) http.Handler {
	h := &routes{c: c, rc: rc}
	root := mux.NewRouter()
	r := root
	if prefix = strings.TrimSuffix(prefix, "/"); prefix != "" {
		r = root.PathPrefix(prefix).Subrouter()
	}

	r.Handle("/signout", h.limited("session.signOut", h.signOut)).Methods(http.MethodPost)
	r.Handle("/me", h.limited("session.me", h.me)).Methods(http.MethodGet)

	if c.Password != nil {
		r.Handle("/signup", h.limited("password.signUp", h.signUp)).Methods(http.MethodPost)
		r.Handle("/signin", h.limited("password.signIn", h.signIn)).Methods(http.MethodPost)
		r.Handle("/password/change", h.limited("password.change", h.changePassword)).Methods(http.MethodPost)
		r.Handle("/password/set", h.limited("password.set", h.setPassword)).Methods(http.MethodPost)
		if rc.Mailer != nil {
			r.Handle("/password/forgot", h.limited("password.forgot", h.forgotPassword)).Methods(http.MethodPost)
		}
		r.Handle("/password/reset", h.limited("password.reset", h.resetPassword)).Methods(http.MethodPost)
	}
	if c.EmailVerification != nil {
		r.Handle("/verify-email/request", h.limited("emailVerification.request", h.requestVerification)).Methods(http.MethodPost)
		r.Handle("/verify-email", h.limited("emailVerification.verify", h.verifyEmail)).Methods(http.MethodGet)
	}
	if c.OAuth != nil {
		r.Handle("/accounts", h.limited("oauth.accounts", h.accounts)).Methods(http.MethodGet)
		// Registered last so the static paths above win.
		r.Handle("/{provider}", h.limited("oauth.initiate", h.initiate)).Methods(http.MethodGet)
		r.Handle("/{provider}/callback", h.limited("oauth.callback", h.callback)).Methods(http.MethodGet)
		r.Handle("/{provider}/unlink", h.limited("oauth.unlink", h.unlink)).Methods(http.MethodPost)
	}
	return root
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess Session)

// limited checks the rate limit for operation, then resolves the session
// and runs next. A failing counter store lets the request through.
func (h *routes) limited(operation string, next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := h.c.RateLimit(r.Context(), operation, r)
		if err != nil {
			h.c.fc.Logger.Warn("rate limit check failed", "operation", operation, "err", err)
		} else if res.Limited {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"code":       "rate_limited",
				"message":    "Too many requests",
				"retryAfter": res.RetryAfter,
			})
			return
		}
		next(w, r, h.rc.Sessions(w, r))
	})
}

// maxBodyBytes caps request bodies read by input.
const maxBodyBytes = 1 << 20

// input reads a JSON object or a form body into a map.
func input(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			return nil, err
		}
		if data == nil {
			data = map[string]any{}
		}
		return data, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	data := map[string]any{}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			data[k] = v[0]
		}
	}
	return data, nil
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidCredentials, ErrCodeNotAuthenticated, ErrCodeInvalidPassword:
		return http.StatusUnauthorized
	case ErrCodeEmailTaken, ErrCodePasswordAlreadySet:
		return http.StatusConflict
	case ErrCodeUserNotFound, ErrCodeAccountNotLinked:
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (h *routes) fail(w http.ResponseWriter, err error) {
	var ae *AuthError
	switch {
	case errors.As(err, &ae):
		writeJSON(w, statusFor(ae.Code), ae)
	case errors.Is(err, ErrUnknownProvider):
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "unknown_provider", "message": "Unknown provider"})
	default:
		h.c.fc.Logger.Error("auth request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error", "message": "Internal error"})
	}
}

func (h *routes) badBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"code": "invalid_request", "message": "Request body too large"})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"code": "invalid_request", "message": "Invalid request body"})
}

func (h *routes) signUp(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	fields, _ := data["fields"].(map[string]any)
	user, err := h.c.Password.SignUp(r.Context(), sess, SignUpInput{
		Email:    str(data, "email"),
		Password: str(data, "password"),
		Name:     str(data, "name"),
		Image:    str(data, "image"),
		Fields:   fields,
	}, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *routes) signIn(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	user, err := h.c.Password.SignIn(r.Context(), sess, str(data, "email"), str(data, "password"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *routes) signOut(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := h.c.SignOut(r.Context(), sess); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *routes) me(w http.ResponseWriter, r *http.Request, sess Session) {
	user, err := h.c.GetUser(r.Context(), sess)
	if err != nil {
		h.fail(w, err)
		return
	}
	if user == nil {
		h.fail(w, ErrNotAuthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *routes) changePassword(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	if err := h.c.Password.Change(r.Context(), sess, str(data, "currentPassword"), str(data, "newPassword")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *routes) setPassword(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	if err := h.c.Password.Set(r.Context(), sess, str(data, "password")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// forgotPassword answers the same way whether or not the account exists.
func (h *routes) forgotPassword(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	tok, err := h.c.Password.GetResetToken(r.Context(), str(data, "email"))
	switch {
	case err == nil:
		if err := h.rc.Mailer.SendPasswordResetEmail(r.Context(), tok.User.Email, withToken(h.rc.ResetURL, tok.Token)); err != nil {
			h.c.fc.Logger.Warn("password reset delivery failed", "userId", tok.User.ID, "err", err)
		}
	case errors.Is(err, ErrUserNotFound):
	default:
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *routes) resetPassword(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	user, err := h.c.Password.Reset(r.Context(), sess, str(data, "token"), str(data, "password"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *routes) requestVerification(w http.ResponseWriter, r *http.Request, sess Session) {
	data, err := input(w, r)
	if err != nil {
		h.badBody(w, err)
		return
	}
	email := str(data, "email")
	if email == "" {
		user, err := h.c.GetUser(r.Context(), sess)
		if err != nil {
			h.fail(w, err)
			return
		}
		if user == nil {
			h.fail(w, ErrNotAuthenticated)
			return
		}
		email = user.Email
	}
	if err := h.c.EmailVerification.RequestVerification(r.Context(), email); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *routes) verifyEmail(w http.ResponseWriter, r *http.Request, sess Session) {
	user, err := h.c.EmailVerification.Verify(r.Context(), sess, r.URL.Query().Get("token"))
	if h.rc.VerifiedURL != "" {
		fl := Flash{Feature: "emailVerification", Route: "verify", Type: FlashSuccess, Code: "verified"}
		if err != nil {
			fl.Type, fl.Code = FlashError, string(CodeOf(err))
			if fl.Code == "" {
				h.c.fc.Logger.Error("email verification failed", "err", err)
				fl.Code = "internal_error"
			}
		}
		setFlash(sess, fl)
		http.Redirect(w, r, h.rc.VerifiedURL, http.StatusFound)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *routes) initiate(w http.ResponseWriter, r *http.Request, sess Session) {
	target, err := h.c.OAuth.Initiate(r.Context(), mux.Vars(r)["provider"])
	if err != nil {
		h.fail(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *routes) callback(w http.ResponseWriter, r *http.Request, sess Session) {
	provider := mux.Vars(r)["provider"]
	if _, err := h.c.OAuth.provider(provider); err != nil {
		h.c.fc.Logger.Info("oauth callback for unknown provider", "provider", provider)
		http.Redirect(w, r, h.c.OAuth.failRedirect(sess, ErrCodeOAuthError), http.StatusFound)
		return
	}
	http.Redirect(w, r, h.c.OAuth.Callback(r.Context(), sess, provider, r), http.StatusFound)
}

func (h *routes) accounts(w http.ResponseWriter, r *http.Request, sess Session) {
	user, err := h.c.GetUser(r.Context(), sess)
	if err != nil {
		h.fail(w, err)
		return
	}
	if user == nil {
		h.fail(w, ErrNotAuthenticated)
		return
	}
	accounts, err := h.c.OAuth.Accounts(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *routes) unlink(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := h.c.OAuth.Unlink(r.Context(), sess, mux.Vars(r)["provider"]); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
