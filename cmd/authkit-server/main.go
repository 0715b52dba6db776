// Command authkit-server runs the authkit HTTP routes against a configurable
// store. It is a reference deployment, not a product.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/oauth2"
	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/session"
	"github.com/panyam/authkit/storage"
	"github.com/panyam/authkit/stores/fs"
	"github.com/panyam/authkit/stores/gae"
	gormstore "github.com/panyam/authkit/stores/gorm"
	"github.com/panyam/authkit/stores/memory"
	redisstore "github.com/panyam/authkit/stores/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	secondary, err := openSecondary(ctx, cfg)
	if err != nil {
		log.Fatalf("secondary storage: %v", err)
	}

	mailer := &authkit.ConsoleEmailSender{Logger: logger}
	ac, err := authkit.New(authkit.Config{
		Secret:           cfg.Secret,
		Storage:          store,
		SecondaryStorage: secondary,
		Logger:           logger,
		Password: authkit.PasswordConfig{
			Enabled:   true,
			Algorithm: cfg.Password.Algorithm,
			MinLength: cfg.Password.MinLength,
		},
		EmailVerification: authkit.EmailVerificationConfig{
			Enabled:          cfg.Secret != "",
			SendVerification: authkit.VerificationSender(mailer, cfg.BaseURL+"/auth/verify-email"),
		},
		OAuth: oauthConfig(cfg),
		RateLimit: ratelimit.Config{
			Enabled: cfg.RateLimit.Enabled,
			Default: &ratelimit.Rule{Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max},
			Rules: map[string]ratelimit.Rule{
				"password.signIn": {Window: time.Minute, Max: 10},
				"password.forgot": {Window: time.Hour, Max: 5},
				"*.callback":      {Window: time.Minute, Max: 30},
			},
		},
	})
	if err != nil {
		log.Fatalf("authkit: %v", err)
	}
	if cfg.Secret == "" {
		logger.Warn("no secret configured, email verification is disabled")
	}

	sessions := scs.New()
	sessions.Lifetime = cfg.Session.Lifetime
	sessions.Cookie.Secure = cfg.Session.CookieSecure
	sessionFor := func(w http.ResponseWriter, r *http.Request) authkit.Session {
		return session.NewSCS(sessions, r.Context())
	}

	router := mux.NewRouter()
	router.PathPrefix("/auth/").Handler(ac.Routes("/auth", authkit.RoutesConfig{
		Sessions:    sessionFor,
		Mailer:      mailer,
		ResetURL:    cfg.BaseURL + "/reset-password",
		VerifiedURL: "/",
	}))
	mw := &authkit.Middleware{Client: ac, Sessions: sessionFor}
	router.Handle("/", mw.ExtractUser(homeHandler(ac, sessionFor)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           sessions.LoadAndSave(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	logger.Info("authkit-server listening", "addr", cfg.Addr, "storage", cfg.Storage.Driver, "features", ac.Features())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

func openStorage(ctx context.Context, cfg *Config) (storage.Adapter, error) {
	switch cfg.Storage.Driver {
	case "fs":
		store, err := fs.New(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Storage.DSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, err
		}
		return gormstore.New(db), nil
	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.Storage.Project)
		if err != nil {
			return nil, err
		}
		return gae.New(client, cfg.Storage.Namespace), nil
	}
	return memory.New(), nil
}

func openSecondary(ctx context.Context, cfg *Config) (storage.SecondaryStorage, error) {
	if cfg.Redis.Addr == "" {
		return memory.NewSecondary(), nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return redisstore.New(client, cfg.Redis.Prefix), nil
}

func breakerSettings(cfg *Config, name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    "oauth-" + name,
		Timeout: cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.MaxFailures
		},
	}
}

func oauthConfig(cfg *Config) authkit.OAuthConfig {
	providers := map[string]authkit.OAuthProvider{}
	if cfg.Google.Enabled() {
		providers["google"] = authkit.OAuthProvider{
			Provider:     oauth2.WithBreaker(oauth2.NewGoogleProvider(), breakerSettings(cfg, "google")),
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
		}
	}
	if cfg.GitHub.Enabled() {
		providers["github"] = authkit.OAuthProvider{
			Provider:     oauth2.WithBreaker(oauth2.NewGitHubProvider(), breakerSettings(cfg, "github")),
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
		}
	}
	return authkit.OAuthConfig{
		Enabled:    len(providers) > 0,
		Providers:  providers,
		BaseURL:    cfg.BaseURL,
		SuccessURL: "/",
		ErrorURL:   "/",
	}
}

// homeHandler prints who is signed in and the last OAuth outcome.
func homeHandler(ac *authkit.Client, sessions authkit.SessionFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if user := authkit.UserFromContext(r.Context()); user != nil {
			fmt.Fprintf(w, "signed in as %s (%s)\n", user.Email, user.ID)
		} else {
			fmt.Fprintln(w, "not signed in")
		}
		if flash := ac.GetFlash(sessions(w, r), nil); flash != nil {
			fmt.Fprintf(w, "%s %s: %s %s\n", flash.Feature, flash.Route, flash.Type, flash.Code)
		}
		for _, name := range ac.Features() {
			fmt.Fprintf(w, "feature: %s\n", name)
		}
	})
}
