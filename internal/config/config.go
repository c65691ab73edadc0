// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package config loads SnapWave configuration from built-in defaults, an
// optional YAML file, SNAPWAVE_* environment variables and command-line
// flags, in that order of precedence (last wins).
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SNAPWAVE_"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Notification drivers.
const (
	NotifyLog   = "log"
	NotifyRedis = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	Env         string      `koanf:"env" yaml:"env" json:"env" jsonschema:"enum=development,enum=production"`
	Database    Database    `koanf:"database" yaml:"database" json:"database"`
	Auth        Auth        `koanf:"auth" yaml:"auth" json:"auth"`
	Server      Server      `koanf:"server" yaml:"server" json:"server"`
	Metrics     Metrics     `koanf:"metrics" yaml:"metrics" json:"metrics"`
	Log         Log         `koanf:"log" yaml:"log" json:"log"`
	Tokens      Tokens      `koanf:"tokens" yaml:"tokens" json:"tokens"`
	AccessToken AccessToken `koanf:"access_token" yaml:"access_token" json:"access_token"`
	Notify      Notify      `koanf:"notify" yaml:"notify" json:"notify"`
	Frontend    Frontend    `koanf:"frontend" yaml:"frontend" json:"frontend"`
	Dev         Dev         `koanf:"dev" yaml:"dev" json:"dev"`
}

// Database configures the PostgreSQL pool.
type Database struct {
	URL             string `koanf:"url" yaml:"url" json:"url" jsonschema:"description=PostgreSQL connection URL"`
	ConnectAttempts uint64 `koanf:"connect_attempts" yaml:"connect_attempts" json:"connect_attempts" jsonschema:"minimum=1"`
	MaxConns        int32  `koanf:"max_conns" yaml:"max_conns" json:"max_conns" jsonschema:"minimum=1"`
	Migrate         bool   `koanf:"migrate" yaml:"migrate" json:"migrate" jsonschema:"description=Apply pending migrations on serve"`
}

// Auth tunes the credential core.
type Auth struct {
	RehashLegacy bool `koanf:"rehash_legacy" yaml:"rehash_legacy" json:"rehash_legacy"`
}

// Server configures the API listener.
type Server struct {
	Addr            string        `koanf:"addr" yaml:"addr" json:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Metrics configures the observability listener. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr" yaml:"addr" json:"addr"`
}

// Log configures slog.
type Log struct {
	Format string `koanf:"format" yaml:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Tokens sets the reset and verification token lifetimes.
type Tokens struct {
	ResetTTL        time.Duration `koanf:"reset_ttl" yaml:"reset_ttl" json:"reset_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl" yaml:"verification_ttl" json:"verification_ttl"`
}

// AccessToken configures bearer token signing.
type AccessToken struct {
	Secret string        `koanf:"secret" yaml:"secret" json:"secret" jsonschema:"minLength=32"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl" json:"ttl"`
	Issuer string        `koanf:"issuer" yaml:"issuer" json:"issuer"`
}

// Notify selects the notification driver.
type Notify struct {
	Driver    string `koanf:"driver" yaml:"driver" json:"driver" jsonschema:"enum=log,enum=redis"`
	RedisAddr string `koanf:"redis_addr" yaml:"redis_addr" json:"redis_addr"`
	Stream    string `koanf:"stream" yaml:"stream" json:"stream"`
	MaxLen    int64  `koanf:"max_len" yaml:"max_len" json:"max_len" jsonschema:"minimum=0"`
}

// Frontend locates the web client that renders reset and verify pages.
type Frontend struct {
	URL string `koanf:"url" yaml:"url" json:"url" jsonschema:"format=uri"`
}

// Dev holds development-only switches.
type Dev struct {
	ExposeTokens bool `koanf:"expose_tokens" yaml:"expose_tokens" json:"expose_tokens" jsonschema:"description=Echo issued tokens in API responses (never in production)"`
}

// defaults are the flat built-in values. Every configurable key appears here.
func defaults() map[string]any {
	return map[string]any{
		"env":                       EnvDevelopment,
		"database.url":              "",
		"database.connect_attempts": uint64(5),
		"database.max_conns":        int32(10),
		"database.migrate":          false,
		"auth.rehash_legacy":        false,
		"server.addr":               ":8000",
		"server.shutdown_timeout":   10 * time.Second,
		"metrics.addr":              "127.0.0.1:9100",
		"log.format":                "json",
		"log.level":                 "info",
		"tokens.reset_ttl":          24 * time.Hour,
		"tokens.verification_ttl":   72 * time.Hour,
		"access_token.secret":       "",
		"access_token.ttl":          24 * time.Hour,
		"access_token.issuer":       "snapwave",
		"notify.driver":             NotifyLog,
		"notify.redis_addr":         "",
		"notify.stream":             "snapwave:notifications",
		"notify.max_len":            int64(10000),
		"frontend.url":              "http://localhost:3000",
		"dev.expose_tokens":         false,
	}
}

// Keys returns every configuration key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults()))
	for k := range defaults() {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// mapProvider is a koanf.Provider over a flat map with dotted keys.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, oops.Errorf("map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		flat[k] = v
	}
	return maps.Unflatten(flat, "."), nil
}

// Options controls Load.
type Options struct {
	// File is an optional YAML file. Empty skips the file layer.
	File string
	// Flags, when set, are layered last. Only flags the user changed
	// override earlier layers.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to configuration keys.
	FlagKeys map[string]string
	// Environ replaces os.Environ, for tests.
	Environ []string
	// SkipValidation returns the merged Config without calling Validate.
	// Commands that only touch the database use it.
	SkipValidation bool
}

// Load builds a Config and, unless SkipValidation is set, validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", opts.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", opts.File).Wrap(err)
		}
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", opts.File).Wrap(err)
		}
	}

	if err := loadEnv(k, opts.Environ); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		cb := func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, cb), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if opts.SkipValidation {
		return &cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SNAPWAVE_ACCESS_TOKEN_SECRET to access_token.secret. Names
// that match no key return "" and are ignored.
func envKey(known map[string]string) func(string) string {
	return func(name string) string {
		return known[strings.ToLower(strings.TrimPrefix(name, EnvPrefix))]
	}
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	known := make(map[string]string)
	for key := range defaults() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}

	if environ == nil {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey(known)), nil); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
		}
		return nil
	}

	overrides := mapProvider{}
	lookup := envKey(known)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		if key := lookup(name); key != "" {
			overrides[key] = value
		}
	}
	if err := k.Load(overrides, nil); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}
	return nil
}

// Validate checks cross-field rules that the schema cannot express.
func (c *Config) Validate() error {
	fail := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fail("env", "env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fail("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fail("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Server.Addr == "" {
		return fail("server.addr", "server.addr is required")
	}
	if c.Tokens.ResetTTL <= 0 {
		return fail("tokens.reset_ttl", "tokens.reset_ttl must be positive")
	}
	if c.Tokens.VerificationTTL <= 0 {
		return fail("tokens.verification_ttl", "tokens.verification_ttl must be positive")
	}
	if c.AccessToken.TTL <= 0 {
		return fail("access_token.ttl", "access_token.ttl must be positive")
	}
	if c.AccessToken.Secret == "" {
		return fail("access_token.secret", "access_token.secret is required")
	}
	if c.Database.ConnectAttempts == 0 {
		return fail("database.connect_attempts", "database.connect_attempts must be at least 1")
	}
	switch c.Notify.Driver {
	case NotifyLog:
	case NotifyRedis:
		if c.Notify.RedisAddr == "" {
			return fail("notify.redis_addr", "notify.redis_addr is required for the redis driver")
		}
	default:
		return fail("notify.driver", "notify.driver must be %q or %q, got %q", NotifyLog, NotifyRedis, c.Notify.Driver)
	}
	if c.Frontend.URL == "" {
		return fail("frontend.url", "frontend.url is required")
	}
	if c.Dev.ExposeTokens && c.Env == EnvProduction {
		return fail("dev.expose_tokens", "dev.expose_tokens cannot be enabled in production")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	const mask = "********"
	if c.AccessToken.Secret != "" {
		c.AccessToken.Secret = mask
	}
	if c.Database.URL != "" {
		c.Database.URL = redactURL(c.Database.URL)
	}
	return c
}
