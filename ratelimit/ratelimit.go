// Package ratelimit implements a sliding-window request counter keyed by
// operation and client identity, persisted in a storage.SecondaryStorage.
//
// Operations are named "feature.method" (for example "password.signIn").
// Rules resolve in priority order: the exact name, then "feature.*", then
// "*.method", then the configured default.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/panyam/authkit/storage"
)

const keyPrefix = "ratelimit:"

// Rule limits an operation to Max requests per Window.
type Rule struct {
	Window time.Duration
	Max    int

	// Disabled turns limiting off for every operation this rule matches.
	Disabled bool
}

// Off is a rule that disables limiting for the operations it matches.
var Off = Rule{Disabled: true}

// DefaultRule applies when no configured rule matches.
var DefaultRule = Rule{Window: 60 * time.Second, Max: 100}

// DefaultIPAddressHeaders are scanned in order when Config leaves them empty.
var DefaultIPAddressHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

type Config struct {
	Enabled bool

	// Rules maps operation patterns ("password.signIn", "password.*",
	// "*.signIn") to rules.
	Rules map[string]Rule

	// Default is used when nothing in Rules matches. The zero Rule selects
	// DefaultRule.
	Default *Rule

	IPAddressHeaders []string
}

// Result is the outcome of a check.
type Result struct {
	Limited bool

	// RetryAfter is the number of whole seconds until the window reopens.
	// Only set when Limited.
	RetryAfter int
}

// counter is the persisted window state. LastRequest is unix millis.
type counter struct {
	Count       int   `json:"count"`
	LastRequest int64 `json:"lastRequest"`
}

type Limiter struct {
	store   storage.SecondaryStorage
	config  Config
	headers []string
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(store storage.SecondaryStorage, config Config, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		config:  config,
		headers: config.IPAddressHeaders,
		now:     time.Now,
		logger:  slog.Default(),
	}
	if len(l.headers) == 0 {
		l.headers = DefaultIPAddressHeaders
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Enabled() bool { return l != nil && l.config.Enabled }

// Resolve returns the rule governing operation.
func (l *Limiter) Resolve(operation string) Rule {
	rules := l.config.Rules
	if r, ok := rules[operation]; ok {
		return r
	}
	feature, method, found := strings.Cut(operation, ".")
	if found {
		if r, ok := rules[feature+".*"]; ok {
			return r
		}
		if r, ok := rules["*."+method]; ok {
			return r
		}
	}
	if l.config.Default != nil {
		return *l.config.Default
	}
	return DefaultRule
}

// Check counts one request for (operation, identity). An empty identity
// is never limited.
func (l *Limiter) Check(ctx context.Context, operation, identity string) (Result, error) {
	if !l.Enabled() || identity == "" {
		return Result{}, nil
	}
	rule := l.Resolve(operation)
	if rule.Disabled || rule.Max <= 0 || rule.Window <= 0 {
		return Result{}, nil
	}

	key := keyPrefix + operation + ":" + identity
	now := l.now().UnixMilli()
	window := rule.Window.Milliseconds()

	var c counter
	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: read %s: %w", key, err)
	}
	if found {
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			// A corrupt counter starts a fresh window.
			l.logger.Warn("ratelimit: discarding unreadable counter", "key", key, "err", err)
			found = false
		}
	}

	switch {
	case !found || now-c.LastRequest > window:
		c = counter{Count: 1, LastRequest: now}
	case c.Count >= rule.Max:
		retry := int(math.Ceil(float64(c.LastRequest+window-now) / 1000))
		if retry < 1 {
			retry = 1
		}
		return Result{Limited: true, RetryAfter: retry}, nil
	default:
		c.Count++
		c.LastRequest = now
	}

	data, err := json.Marshal(c)
	if err != nil {
		return Result{}, err
	}
	if err := l.store.Set(ctx, key, string(data), rule.Window); err != nil {
		return Result{}, fmt.Errorf("ratelimit: write %s: %w", key, err)
	}
	return Result{}, nil
}

// CheckRequest checks operation for the client IP found in h. If no IP
// can be determined the request is allowed.
func (l *Limiter) CheckRequest(ctx context.Context, operation string, h http.Header) (Result, error) {
	if !l.Enabled() {
		return Result{}, nil
	}
	return l.Check(ctx, operation, ClientIP(h, l.headers))
}

// ClientIP returns the first comma-separated token of the first header in
// names that is present and non-empty.
func ClientIP(h http.Header, names []string) string {
	for _, name := range names {
		v := h.Get(name)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return ""
}

// Headers returns the header names scanned by CheckRequest.
func (l *Limiter) Headers() []string { return l.headers }
