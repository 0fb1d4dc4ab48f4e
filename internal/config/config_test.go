package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blobdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Channel = "demo"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8, cfg.ChannelWidth)
	assert.Equal(t, "indexed", cfg.Mode)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, uint64(1000), cfg.SearchLimit)
	assert.Equal(t, LedgerSQLite, cfg.Ledger.Kind)
	assert.Empty(t, cfg.Channel)
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvChannel, "")
	t.Setenv(EnvAuthToken, "")
	path := writeConfig(t, `
channel: orders
channel_width: 10
mode: scan
ledger:
  kind: celestia
  endpoint: http://node:26658
  timeout: 45s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Channel)
	assert.Equal(t, 10, cfg.ChannelWidth)
	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "json", cfg.Codec, "unset fields keep defaults")
	assert.Equal(t, LedgerCelestia, cfg.Ledger.Kind)
	assert.Equal(t, "blobdb.db", cfg.Ledger.Path)

	d, err := cfg.Ledger.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)
	assert.NoError(t, Validate(cfg))
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "channel: demo\nchanel_width: 8\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chanel_width")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Setenv(EnvChannel, "")
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv(EnvChannel, "fromenv")
	t.Setenv(EnvAuthToken, "tok")
	t.Setenv(EnvS3AccessKey, "ak")
	t.Setenv(EnvS3SecretKey, "sk")

	cfg, err := Load(writeConfig(t, "channel: fromfile\n"))
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Channel)
	assert.Equal(t, "tok", cfg.Ledger.AuthToken)
	assert.Equal(t, "ak", cfg.Export.AccessKey)
	assert.Equal(t, "sk", cfg.Export.SecretKey)
}

func TestApplyEnv_EmptyKeepsValue(t *testing.T) {
	cfg := validConfig()
	ApplyEnv(&cfg, func(string) string { return "  " })
	assert.Equal(t, "demo", cfg.Channel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr string
	}{
		{name: "valid defaults", edit: func(*Config) {}},
		{name: "valid memory ledger", edit: func(c *Config) { c.Ledger = LedgerConfig{Kind: LedgerMemory} }},
		{name: "valid hint", edit: func(c *Config) { c.Hint = 42 }},
		{name: "valid export", edit: func(c *Config) { c.Export = ExportConfig{Endpoint: "localhost:9000", Bucket: "snapshots"} }},
		{name: "missing channel", edit: func(c *Config) { c.Channel = "" }, wantErr: "channel"},
		{name: "bad width", edit: func(c *Config) { c.ChannelWidth = 9 }, wantErr: "channel_width"},
		{name: "bad mode", edit: func(c *Config) { c.Mode = "btree" }, wantErr: "mode"},
		{name: "bad codec", edit: func(c *Config) { c.Codec = "xml" }, wantErr: "codec"},
		{name: "zero search limit", edit: func(c *Config) { c.SearchLimit = 0 }, wantErr: "search_limit"},
		{name: "bad log level", edit: func(c *Config) { c.LogLevel = "trace" }, wantErr: "log_level"},
		{name: "bad ledger kind", edit: func(c *Config) { c.Ledger.Kind = "postgres" }, wantErr: "kind"},
		{name: "sqlite without path", edit: func(c *Config) { c.Ledger.Path = "" }, wantErr: "path"},
		{name: "celestia bad endpoint", edit: func(c *Config) {
			c.Ledger.Kind = LedgerCelestia
			c.Ledger.Endpoint = "localhost:26658"
		}, wantErr: "endpoint"},
		{name: "bad timeout", edit: func(c *Config) { c.Ledger.Timeout = "soon" }, wantErr: "timeout"},
		{name: "bad bucket", edit: func(c *Config) { c.Export.Bucket = "Not_A_Bucket" }, wantErr: "bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.edit(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
