package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/vietddude/fleetcall/internal/infra/auth"
	redisclient "github.com/vietddude/fleetcall/internal/infra/redis"
	"github.com/vietddude/fleetcall/internal/infra/rpc/provider"
	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
	"github.com/vietddude/fleetcall/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	API      provider.Config    `yaml:"api"      toml:"api"`
	Auth     auth.Config        `yaml:"auth"     toml:"auth"`
	Retry    RetryConfig        `yaml:"retry"    toml:"retry"`
	Server   ServerConfig       `yaml:"server"   toml:"server"`
	Redis    redisclient.Config `yaml:"redis"    toml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"  toml:"logging"`
	Database postgres.Config    `yaml:"database" toml:"database"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the server.
type ServerConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"        toml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"       toml:"format"` // json, text
	File       string `yaml:"file"         toml:"file"`   // rotate logs into this file when set
	MaxSizeMB  int    `yaml:"max_size_mb"  toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"  toml:"max_backups"`
}

// RetryConfig holds the envelope policy. Codes are gRPC code names such
// as UNAVAILABLE. Backoff is a pointer so an explicit 0s is kept.
type RetryConfig struct {
	MaxAttempts    int            `yaml:"max_attempts"    toml:"max_attempts"`
	Backoff        *time.Duration `yaml:"backoff"         toml:"backoff"`
	RetryableCodes []string       `yaml:"retryable_codes" toml:"retryable_codes"`
}

// SetBackoff sets an explicit backoff, zero included.
func (c *RetryConfig) SetBackoff(d time.Duration) {
	c.Backoff = &d
}

// Policy converts the configuration into a validated retry.Policy.
func (c RetryConfig) Policy() (retry.Policy, error) {
	codes, err := retry.ParseCodes(c.RetryableCodes)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.retryable_codes: %w", err)
	}
	p := retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		Backoff:        retry.DefaultPolicy().Backoff,
		RetryableCodes: codes,
	}
	if c.Backoff != nil {
		p.Backoff = *c.Backoff
	}
	if err := p.Validate(); err != nil {
		return retry.Policy{}, err
	}
	return p, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	api := provider.DefaultConfig()
	if cfg.API.Name == "" {
		cfg.API.Name = api.Name
	}
	if cfg.API.Endpoint == "" {
		cfg.API.Endpoint = api.Endpoint
	}
	if cfg.API.KeepaliveTime == 0 {
		cfg.API.KeepaliveTime = api.KeepaliveTime
	}
	if cfg.API.KeepaliveTimeout == 0 {
		cfg.API.KeepaliveTimeout = api.KeepaliveTimeout
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = api.UserAgent
	}

	authDefaults := auth.DefaultConfig()
	if cfg.Auth.CredentialsFile == "" {
		cfg.Auth.CredentialsFile = authDefaults.CredentialsFile
	}
	if cfg.Auth.URL == "" {
		cfg.Auth.URL = authDefaults.URL
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = authDefaults.TokenTTL
	}
	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = authDefaults.Timeout
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = policy.MaxAttempts
	}
	if cfg.Retry.Backoff == nil {
		cfg.Retry.SetBackoff(policy.Backoff)
	}
	if len(cfg.Retry.RetryableCodes) == 0 {
		for _, c := range policy.RetryableCodes {
			cfg.Retry.RetryableCodes = append(cfg.Retry.RetryableCodes, codeName(c.String()))
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
}

// codeName turns a codes.Code string such as DeadlineExceeded into the
// configuration spelling DEADLINE_EXCEEDED.
func codeName(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(rune(s[i-1])) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
