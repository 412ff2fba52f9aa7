// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads gatehouse configuration from defaults, an optional
// YAML file, command-line flags and the environment, in that order.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvDatabaseURL overrides store.database_url when set.
const EnvDatabaseURL = "DATABASE_URL"

// Config is the complete gatehouse configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store" json:"store,omitempty"`
	Token     TokenConfig     `koanf:"token" json:"token,omitempty"`
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit,omitempty"`
	Session   SessionConfig   `koanf:"session" json:"session,omitempty"`
	Hasher    HasherConfig    `koanf:"hasher" json:"hasher,omitempty"`
	Audit     AuditConfig     `koanf:"audit" json:"audit,omitempty"`
	Log       LogConfig       `koanf:"log" json:"log,omitempty"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics,omitempty"`
	Control   ControlConfig   `koanf:"control" json:"control,omitempty"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver      string `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=memory,enum=sqlite,enum=postgres"`
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`
	SQLitePath  string `koanf:"sqlite_path" json:"sqlite_path,omitempty"`
	Agent       string `koanf:"agent" json:"agent,omitempty"`
}

// TokenConfig configures session token signing and lifetimes. Secret wins
// over SecretFile.
type TokenConfig struct {
	Secret      string        `koanf:"secret" json:"secret,omitempty"`
	SecretFile  string        `koanf:"secret_file" json:"secret_file,omitempty"`
	AccessTTL   time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty"`
	RefreshTTL  time.Duration `koanf:"refresh_ttl" json:"refresh_ttl,omitempty"`
	ExtendedTTL time.Duration `koanf:"extended_ttl" json:"extended_ttl,omitempty"`
}

// RateLimitConfig configures login lockout.
type RateLimitConfig struct {
	Threshold int           `koanf:"threshold" json:"threshold,omitempty" jsonschema:"minimum=1"`
	Window    time.Duration `koanf:"window" json:"window,omitempty"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	ExpiryCheckInterval  time.Duration `koanf:"expiry_check_interval" json:"expiry_check_interval,omitempty"`
	RefreshHorizon       time.Duration `koanf:"refresh_horizon" json:"refresh_horizon,omitempty"`
	ResetTokenTTL        time.Duration `koanf:"reset_token_ttl" json:"reset_token_ttl,omitempty"`
	VerificationTokenTTL time.Duration `koanf:"verification_token_ttl" json:"verification_token_ttl,omitempty"`
}

// HasherConfig tunes argon2id.
type HasherConfig struct {
	MemoryKiB  uint32 `koanf:"memory_kib" json:"memory_kib,omitempty" jsonschema:"minimum=8"`
	Iterations uint32 `koanf:"iterations" json:"iterations,omitempty" jsonschema:"minimum=1"`
	Threads    uint8  `koanf:"threads" json:"threads,omitempty" jsonschema:"minimum=1"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	WALPath string `koanf:"wal_path" json:"wal_path,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// MetricsConfig configures the metrics server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// ControlConfig configures the gRPC health server. An empty Addr disables
// it.
type ControlConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// Defaults returns the built-in configuration. Paths are resolved under
// the XDG data and state directories.
func Defaults() map[string]any {
	d := map[string]any{
		"store.driver":                   DriverSQLite,
		"store.agent":                    auth.DefaultAgent,
		"token.access_ttl":               auth.DefaultAccessTokenTTL,
		"token.refresh_ttl":              auth.DefaultRefreshTokenTTL,
		"token.extended_ttl":             auth.DefaultExtendedTokenTTL,
		"rate_limit.threshold":           auth.LockoutThreshold,
		"rate_limit.window":              auth.LockoutDuration,
		"session.expiry_check_interval":  time.Minute,
		"session.refresh_horizon":        5 * time.Minute,
		"session.reset_token_ttl":        auth.DefaultResetTokenTTL,
		"session.verification_token_ttl": auth.DefaultVerificationTokenTTL,
		"hasher.memory_kib":              uint32(auth.DefaultArgon2Memory),
		"hasher.iterations":              uint32(auth.DefaultArgon2Iterations),
		"hasher.threads":                 uint8(auth.DefaultArgon2Threads),
		"log.format":                     logging.FormatJSON,
		"metrics.addr":                   "127.0.0.1:9100",
		"control.addr":                   "",
	}
	if dir, err := xdg.DataDir(); err == nil {
		d["store.sqlite_path"] = filepath.Join(dir, "gatehouse.db")
		d["token.secret_file"] = filepath.Join(dir, "signing.key")
	}
	if dir, err := xdg.StateDir(); err == nil {
		d["audit.wal_path"] = filepath.Join(dir, "audit.wal")
	}
	return d
}

// Flag names bound by RegisterFlags.
const (
	FlagStore       = "store"
	FlagDatabaseURL = "database-url"
	FlagSQLitePath  = "sqlite-path"
	FlagLogFormat   = "log-format"
	FlagMetricsAddr = "metrics-addr"
	FlagControlAddr = "control-addr"
)

var flagKeys = map[string]string{
	FlagStore:       "store.driver",
	FlagDatabaseURL: "store.database_url",
	FlagSQLitePath:  "store.sqlite_path",
	FlagLogFormat:   "log.format",
	FlagMetricsAddr: "metrics.addr",
	FlagControlAddr: "control.addr",
}

// RegisterFlags adds the configuration override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagStore, "", "store driver: memory, sqlite or postgres")
	fs.String(FlagDatabaseURL, "", "postgres connection URL")
	fs.String(FlagSQLitePath, "", "sqlite database file")
	fs.String(FlagLogFormat, "", "log format: json or text")
	fs.String(FlagMetricsAddr, "", "metrics listen address, empty to disable")
	fs.String(FlagControlAddr, "", "gRPC health listen address, empty to disable")
}

// Load builds the configuration. path may be empty; fs may be nil. Only
// flags set on the command line override file values.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if url := os.Getenv(EnvDatabaseURL); url != "" {
		if err := k.Set("store.database_url", url); err != nil {
			return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Every problem is reported in
// the "problems" context.
func (c *Config) Validate() error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			add("store.database_url (or " + EnvDatabaseURL + ") is required for the postgres driver")
		}
	default:
		add("store.driver must be memory, sqlite or postgres")
	}
	if c.Store.Agent == "" {
		add("store.agent is required")
	}

	t := c.Token
	if t.AccessTTL <= 0 || t.RefreshTTL <= 0 || t.ExtendedTTL <= 0 {
		add("token lifetimes must be positive")
	} else if t.AccessTTL >= t.RefreshTTL || t.RefreshTTL >= t.ExtendedTTL {
		add("token lifetimes must satisfy access_ttl < refresh_ttl < extended_ttl")
	}
	if t.Secret != "" && len(t.Secret) < auth.MinSigningKeyBytes {
		add("token.secret is too short")
	}
	if t.Secret == "" && t.SecretFile == "" {
		add("token.secret or token.secret_file is required")
	}

	if c.RateLimit.Threshold < 1 {
		add("rate_limit.threshold must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		add("rate_limit.window must be positive")
	}

	s := c.Session
	if s.ExpiryCheckInterval <= 0 {
		add("session.expiry_check_interval must be positive")
	}
	if s.RefreshHorizon <= 0 || s.RefreshHorizon >= t.AccessTTL {
		add("session.refresh_horizon must be positive and shorter than token.access_ttl")
	}
	if s.ResetTokenTTL <= 0 || s.VerificationTokenTTL <= 0 {
		add("session token lifetimes must be positive")
	}

	if c.Hasher.MemoryKiB < 8 || c.Hasher.Iterations < 1 || c.Hasher.Threads < 1 {
		add("hasher parameters are below the argon2id minimum")
	}
	if !logging.ValidFormat(c.Log.Format) {
		add("log.format must be json or text")
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasherParams returns the argon2id parameters.
func (c *Config) HasherParams() auth.Argon2Params {
	return auth.Argon2Params{
		Memory:     c.Hasher.MemoryKiB,
		Iterations: c.Hasher.Iterations,
		Threads:    c.Hasher.Threads,
	}
}

// TokenConfig returns the issuer configuration for key.
func (c *Config) TokenConfig(key []byte) auth.TokenConfig {
	return auth.TokenConfig{
		SigningKey:  key,
		Issuer:      "gatehouse",
		AccessTTL:   c.Token.AccessTTL,
		RefreshTTL:  c.Token.RefreshTTL,
		ExtendedTTL: c.Token.ExtendedTTL,
	}
}
