package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the demo server configuration. Every key can be set in the
// optional config file or as an AUTHKIT_ environment variable, e.g.
// storage.driver is AUTHKIT_STORAGE_DRIVER.
type Config struct {
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"`
	Secret  string `mapstructure:"secret"`

	Storage struct {
		// memory, fs, postgres or datastore
		Driver    string `mapstructure:"driver"`
		Path      string `mapstructure:"path"`
		DSN       string `mapstructure:"dsn"`
		Project   string `mapstructure:"project"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"storage"`

	// Redis holds rate-limit counters and OAuth state. Empty Addr keeps
	// them in process memory.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Password struct {
		Algorithm string `mapstructure:"algorithm"`
		MinLength int    `mapstructure:"min_length"`
	} `mapstructure:"password"`

	Google ProviderConfig `mapstructure:"google"`
	GitHub ProviderConfig `mapstructure:"github"`

	RateLimit struct {
		Enabled bool          `mapstructure:"enabled"`
		Window  time.Duration `mapstructure:"window"`
		Max     int           `mapstructure:"max"`
	} `mapstructure:"ratelimit"`

	Session struct {
		Lifetime     time.Duration `mapstructure:"lifetime"`
		CookieSecure bool          `mapstructure:"cookie_secure"`
	} `mapstructure:"session"`

	// Breaker guards calls to OAuth providers.
	Breaker struct {
		MaxFailures uint32        `mapstructure:"max_failures"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"breaker"`
}

type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

func (p ProviderConfig) Enabled() bool { return p.ClientID != "" && p.ClientSecret != "" }

var defaults = map[string]any{
	"addr":                  ":8080",
	"base_url":              "http://localhost:8080",
	"secret":                "",
	"storage.driver":        "memory",
	"storage.path":          "./data",
	"storage.dsn":           "",
	"storage.project":       "",
	"storage.namespace":     "",
	"redis.addr":            "",
	"redis.password":        "",
	"redis.db":              0,
	"redis.prefix":          "authkit:",
	"password.algorithm":    "",
	"password.min_length":   8,
	"google.client_id":      "",
	"google.client_secret":  "",
	"github.client_id":      "",
	"github.client_secret":  "",
	"ratelimit.enabled":     true,
	"ratelimit.window":      "60s",
	"ratelimit.max":         100,
	"session.lifetime":      "24h",
	"session.cookie_secure": false,
	"breaker.max_failures":  5,
	"breaker.timeout":       "30s",
}

// LoadConfig reads the optional config file at path. Environment variables,
// including those loaded from a .env file, take precedence over it.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("AUTHKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	switch cfg.Storage.Driver {
	case "memory", "fs", "postgres", "datastore":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required for postgres")
	}
	if cfg.Storage.Driver == "datastore" && cfg.Storage.Project == "" {
		return nil, fmt.Errorf("storage.project is required for datastore")
	}
	return cfg, nil
}
