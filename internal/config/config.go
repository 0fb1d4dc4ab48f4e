// Package config loads blobdb settings from defaults, a YAML file, and the
// environment, and validates the merged result against an embedded CUE
// schema. Command-line flags are applied by the CLI on top of Load.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvChannel     = "BLOBDB_CHANNEL"
	EnvAuthToken   = "CELESTIA_NODE_AUTH_TOKEN"
	EnvS3AccessKey = "BLOBDB_S3_ACCESS_KEY"
	EnvS3SecretKey = "BLOBDB_S3_SECRET_KEY"
)

// Ledger kinds.
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerCelestia = "celestia"
)

//go:embed schema.cue
var schemaSource string

// Config is the merged configuration.
type Config struct {
	Channel      string `yaml:"channel" json:"channel"`
	ChannelWidth int    `yaml:"channel_width" json:"channel_width"`
	Mode         string `yaml:"mode" json:"mode"`
	Codec        string `yaml:"codec" json:"codec"`
	Compress     bool   `yaml:"compress" json:"compress"`
	SearchLimit  uint64 `yaml:"search_limit" json:"search_limit"`

	// Hint is a height holding the store's metadata. Zero means none.
	Hint uint64 `yaml:"hint" json:"hint,omitempty"`

	LogLevel string       `yaml:"log_level" json:"log_level"`
	Ledger   LedgerConfig `yaml:"ledger" json:"ledger"`
	Export   ExportConfig `yaml:"export" json:"export"`
}

// LedgerConfig selects and configures the ledger client.
type LedgerConfig struct {
	Kind      string `yaml:"kind" json:"kind"`
	Path      string `yaml:"path" json:"path,omitempty"`
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	AuthToken string `yaml:"auth_token" json:"auth_token,omitempty"`
	Timeout   string `yaml:"timeout" json:"timeout,omitempty"`
}

// TimeoutDuration parses Timeout. Empty means zero (client default).
func (l LedgerConfig) TimeoutDuration() (time.Duration, error) {
	if l.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 0, fmt.Errorf("ledger.timeout: %w", err)
	}
	return d, nil
}

// ExportConfig configures snapshot export to an S3-compatible bucket.
type ExportConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix" json:"prefix,omitempty"`
	AccessKey string `yaml:"access_key" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key" json:"secret_key,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	Secure    bool   `yaml:"secure" json:"secure,omitempty"`
}

// Default returns the built-in defaults. Channel has no default.
func Default() Config {
	return Config{
		ChannelWidth: 8,
		Mode:         "indexed",
		Codec:        "json",
		SearchLimit:  1000,
		LogLevel:     "info",
		Ledger: LedgerConfig{
			Kind:     LedgerSQLite,
			Path:     "blobdb.db",
			Endpoint: "http://localhost:26658",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then the process environment. It does not validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	ApplyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment. Unset or empty variables
// leave the current value.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Channel, EnvChannel)
	set(&cfg.Ledger.AuthToken, EnvAuthToken)
	set(&cfg.Export.AccessKey, EnvS3AccessKey)
	set(&cfg.Export.SecretKey, EnvS3SecretKey)
}

// ValidationError reports the first schema violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid config: " + e.Message
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Path, e.Message)
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}

	if _, err := cfg.Ledger.TimeoutDuration(); err != nil {
		return &ValidationError{Path: "ledger.timeout", Message: err.Error()}
	}
	return nil
}

// formatCUEError turns the first CUE error into a ValidationError.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	path := strings.TrimPrefix(strings.Join(first.Path(), "."), "#Config.")
	return &ValidationError{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	}
}
