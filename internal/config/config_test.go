// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv(EnvDatabaseURL, "")
	return dir
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "data", "gatehouse", "gatehouse.db"), cfg.Store.SQLitePath)
	assert.Equal(t, auth.DefaultAgent, cfg.Store.Agent)
	assert.Equal(t, time.Hour, cfg.Token.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, 720*time.Hour, cfg.Token.ExtendedTTL)
	assert.Equal(t, 5, cfg.RateLimit.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, time.Minute, cfg.Session.ExpiryCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Session.RefreshHorizon)
	assert.Equal(t, 24*time.Hour, cfg.Session.ResetTokenTTL)
	assert.Equal(t, 48*time.Hour, cfg.Session.VerificationTokenTTL)
	assert.Equal(t, auth.DefaultArgon2Params(), cfg.HasherParams())
	assert.Equal(t, filepath.Join(dir, "state", "gatehouse", "audit.wal"), cfg.Audit.WALPath)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FileFlagsAndEnvironment(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
store:
  driver: postgres
  database_url: postgres://file
token:
  access_ttl: 30m
rate_limit:
  threshold: 3
log:
  format: text
`)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--metrics-addr", ":9200", "--control-addr", ":9201"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://file", cfg.Store.DatabaseURL)
	assert.Equal(t, 30*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Token.RefreshTTL, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.RateLimit.Threshold)
	assert.Equal(t, "text", cfg.Log.Format, "unchanged flags do not override the file")
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, ":9201", cfg.Control.Addr)

	t.Setenv(EnvDatabaseURL, "postgres://env")
	cfg, err = Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Store.DatabaseURL)
}

func TestLoad_FlagOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "store:\n  driver: sqlite\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--store", "memory"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "store:\n  drvier: sqlite\n")

	_, err := Load(path, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "token:\n  access_ttl: soon\n")

	_, err := Load(path, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
}

func TestLoad_MissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "absent.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
}

func valid(t *testing.T) *Config {
	t.Helper()
	isolate(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.database_url"},
		{"ttl order", func(c *Config) { c.Token.RefreshTTL = 30 * time.Minute }, "access_ttl < refresh_ttl"},
		{"extended not longest", func(c *Config) { c.Token.ExtendedTTL = c.Token.RefreshTTL }, "access_ttl < refresh_ttl"},
		{"threshold", func(c *Config) { c.RateLimit.Threshold = 0 }, "rate_limit.threshold"},
		{"short secret", func(c *Config) { c.Token.Secret = "short" }, "token.secret is too short"},
		{"no secret", func(c *Config) { c.Token.SecretFile = "" }, "token.secret or token.secret_file"},
		{"horizon", func(c *Config) { c.Session.RefreshHorizon = 2 * time.Hour }, "refresh_horizon"},
		{"hasher", func(c *Config) { c.Hasher.Threads = 0 }, "hasher"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := valid(t)
	cfg.RateLimit.Threshold = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	problems, ok := oopsErr.Context()["problems"].([]string)
	require.True(t, ok)
	assert.Len(t, problems, 2)
}

func TestSigningKey(t *testing.T) {
	t.Run("inline secret", func(t *testing.T) {
		cfg := valid(t)
		cfg.Token.Secret = strings.Repeat("k", 32)
		key, err := cfg.SigningKey()
		require.NoError(t, err)
		assert.Equal(t, []byte(cfg.Token.Secret), key)
	})

	t.Run("generated once then reused", func(t *testing.T) {
		cfg := valid(t)
		cfg.Token.SecretFile = filepath.Join(t.TempDir(), "nested", "signing.key")

		first, err := cfg.SigningKey()
		require.NoError(t, err)
		assert.Len(t, first, auth.MinSigningKeyBytes)

		info, err := os.Stat(cfg.Token.SecretFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		second, err := cfg.SigningKey()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("corrupt file", func(t *testing.T) {
		cfg := valid(t)
		cfg.Token.SecretFile = filepath.Join(t.TempDir(), "signing.key")
		require.NoError(t, os.WriteFile(cfg.Token.SecretFile, []byte("not hex"), 0o600))
		_, err := cfg.SigningKey()
		errutil.AssertErrorCode(t, err, "CONFIG_SECRET_INVALID")
	})
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), SchemaID)
	assert.Contains(t, string(data), `"rate_limit"`)
	assert.Contains(t, string(data), `"pattern"`)
	assert.Contains(t, string(data), `"additionalProperties": false`)
}

func TestValidateSchema_EmptyDocument(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte("")))
	assert.NoError(t, ValidateSchema([]byte("# comments only\n")))
}
