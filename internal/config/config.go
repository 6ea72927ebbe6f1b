// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads sessionauth settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/sessionauth/internal/gate"
)

// Session store kinds for the durable strategy.
const (
	SessionStoreFile     = "file"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Identity store kinds.
const (
	IdentityStoreMemory   = "memory"
	IdentityStorePostgres = "postgres"
)

// DefaultCookieName is the session cookie used when SESSION_NAME is unset.
const DefaultCookieName = "_my_session_id"

// DefaultExemptPaths are reachable without credentials.
var DefaultExemptPaths = []string{
	"/api/v1/status/",
	"/api/v1/unauthorized/",
	"/api/v1/forbidden/",
	"/api/v1/auth_session/login/",
}

// Config holds every runtime setting.
type Config struct {
	SessionName     string        `koanf:"session_name"`
	SessionDuration int           `koanf:"session_duration"` // seconds; <= 0 never expires
	AuthType        string        `koanf:"auth_type"`
	ExemptPaths     []string      `koanf:"exempt_paths"`
	SessionStore    string        `koanf:"session_store"`
	SessionFile     string        `koanf:"session_file"`
	IdentityStore   string        `koanf:"identity_store"`
	DatabaseURL     string        `koanf:"database_url"`
	RedisURL        string        `koanf:"redis_url"`
	HTTPAddr        string        `koanf:"http_addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	LogFormat       string        `koanf:"log_format"`
	LogLevel        string        `koanf:"log_level"`
	ResetTokenTTL   time.Duration `koanf:"reset_token_ttl"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	SecureCookie    bool          `koanf:"secure_cookie"`
	LoginRate       float64       `koanf:"login_rate"`
	LoginBurst      int           `koanf:"login_burst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		SessionName:   DefaultCookieName,
		AuthType:      "session_auth",
		ExemptPaths:   append([]string(nil), DefaultExemptPaths...),
		SessionStore:  SessionStoreFile,
		SessionFile:   ".db_UserSession.json",
		IdentityStore: IdentityStoreMemory,
		HTTPAddr:      ":5000",
		MetricsAddr:   "127.0.0.1:9100",
		LogFormat:     "json",
		LogLevel:      "info",
		ResetTokenTTL: time.Hour,
		SweepInterval: 5 * time.Minute,
		LoginRate:     0.2,
		LoginBurst:    5,
	}
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"SESSION_NAME":     "session_name",
	"SESSION_DURATION": "session_duration",
	"AUTH_TYPE":        "auth_type",
	"EXEMPT_PATHS":     "exempt_paths",
	"SESSION_STORE":    "session_store",
	"SESSION_FILE":     "session_file",
	"IDENTITY_STORE":   "identity_store",
	"DATABASE_URL":     "database_url",
	"REDIS_URL":        "redis_url",
	"HTTP_ADDR":        "http_addr",
	"METRICS_ADDR":     "metrics_addr",
	"LOG_FORMAT":       "log_format",
	"LOG_LEVEL":        "log_level",
	"RESET_TOKEN_TTL":  "reset_token_ttl",
	"SWEEP_INTERVAL":   "sweep_interval",
	"SECURE_COOKIE":    "secure_cookie",
	"LOGIN_RATE":       "login_rate",
	"LOGIN_BURST":      "login_burst",
}

// RegisterFlags adds one flag per setting to fs, defaulted from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("session-name", d.SessionName, "session cookie name")
	fs.Int("session-duration", d.SessionDuration, "maximum session age in seconds (0 = never expires)")
	fs.String("auth-type", d.AuthType, "auth strategy: none|basic_auth|session_auth|session_exp_auth|session_db_auth")
	fs.StringSlice("exempt-paths", d.ExemptPaths, "paths reachable without credentials (trailing * = prefix)")
	fs.String("session-store", d.SessionStore, "durable session store: file|postgres|redis")
	fs.String("session-file", d.SessionFile, "session file for the file store")
	fs.String("identity-store", d.IdentityStore, "identity store: memory|postgres")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	fs.String("redis-url", d.RedisURL, "Redis connection URL")
	fs.String("http-addr", d.HTTPAddr, "HTTP listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health listen address (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json, text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Duration("reset-token-ttl", d.ResetTokenTTL, "reset token lifetime (0 = never expires)")
	fs.Duration("sweep-interval", d.SweepInterval, "how often expired sessions are purged")
	fs.Bool("secure-cookie", d.SecureCookie, "set the Secure attribute on the session cookie")
	fs.Float64("login-rate", d.LoginRate, "sustained login attempts per second per client")
	fs.Int("login-burst", d.LoginBurst, "login attempts allowed in a burst per client")
}

// Load reads the config file at path (optional), the environment and the
// flags in fs (optional).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagValue(fs)), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// envValue keeps only known variables. EXEMPT_PATHS is comma separated.
func envValue(name, value string) (string, any) {
	key, ok := envKeys[name]
	if !ok {
		return "", nil
	}
	if key == "exempt_paths" {
		return key, splitList(value)
	}
	return key, value
}

// flagValue maps "session-name" to "session_name" and skips flags that are
// not settings, such as --config and --help.
func flagValue(fs *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	known := make(map[string]struct{}, len(envKeys))
	for _, key := range envKeys {
		known[key] = struct{}{}
	}
	return func(f *pflag.Flag) (string, any) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := known[key]; !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Strategy returns the parsed AuthType.
func (c Config) Strategy() (gate.Strategy, error) {
	return gate.ParseStrategy(c.AuthType)
}

// SessionMaxAge returns SessionDuration as a time.Duration. Zero means
// sessions never expire.
func (c Config) SessionMaxAge() time.Duration {
	if c.SessionDuration <= 0 {
		return 0
	}
	return time.Duration(c.SessionDuration) * time.Second
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	strategy, err := c.Strategy()
	if err != nil {
		return invalid("auth_type", c.AuthType, err.Error())
	}
	if c.SessionName == "" && strategy.UsesSessions() {
		return invalid("session_name", c.SessionName, "session_name is required for session strategies")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return invalid("log_format", c.LogFormat, "log_format must be 'json' or 'text'")
	}
	switch c.IdentityStore {
	case IdentityStoreMemory:
	case IdentityStorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database_url", "", "database_url is required for the postgres identity store")
		}
	default:
		return invalid("identity_store", c.IdentityStore, "identity_store must be 'memory' or 'postgres'")
	}
	if c.HTTPAddr == "" {
		return invalid("http_addr", "", "http_addr is required")
	}

	if !strategy.Durable() {
		return nil
	}
	switch c.SessionStore {
	case SessionStoreFile:
		if c.SessionFile == "" {
			return invalid("session_file", "", "session_file is required for the file session store")
		}
	case SessionStorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database_url", "", "database_url is required for the postgres session store")
		}
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return invalid("redis_url", "", "redis_url is required for the redis session store")
		}
	default:
		return invalid("session_store", c.SessionStore, "session_store must be 'file', 'postgres' or 'redis'")
	}
	return nil
}

// NeedsDatabase reports whether any configured component uses PostgreSQL.
func (c Config) NeedsDatabase() bool {
	if c.IdentityStore == IdentityStorePostgres {
		return true
	}
	strategy, err := c.Strategy()
	return err == nil && strategy.Durable() && c.SessionStore == SessionStorePostgres
}

func invalid(key string, value any, msg string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("%s", msg)
}
