// Package auth obtains bearer credentials for the fleet API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gogama/httpx"
	"github.com/gogama/httpx/request"
	httpxretry "github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/timeout"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

const (
	DefaultURL      = "https://api-auth.bearrobotics.ai/authorizeApiAccess"
	DefaultTokenTTL = time.Hour
	DefaultTimeout  = 30 * time.Second
)

var (
	ErrMissingConfig  = errors.New("auth configuration missing")
	ErrInvalidConfig  = errors.New("auth configuration invalid")
	ErrNetworkFailure = errors.New("auth request failed")
)

// Config holds credential provider configuration.
type Config struct {
	CredentialsFile string        `yaml:"credentials_file" toml:"credentials_file"`
	URL             string        `yaml:"url"              toml:"url"`
	TokenTTL        time.Duration `yaml:"token_ttl"        toml:"token_ttl"`
	Timeout         time.Duration `yaml:"timeout"          toml:"timeout"`
}

// DefaultConfig returns the configuration used when the file omits auth.
func DefaultConfig() Config {
	return Config{
		CredentialsFile: "credentials.json",
		URL:             DefaultURL,
		TokenTTL:        DefaultTokenTTL,
		Timeout:         DefaultTimeout,
	}
}

type apiKey struct {
	APIKey string `json:"api_key"`
	Secret string `json:"secret"`
	Scope  string `json:"scope"`
}

func (k apiKey) validate() error {
	switch {
	case k.APIKey == "":
		return fmt.Errorf("%w: api_key is empty", ErrMissingConfig)
	case k.Secret == "":
		return fmt.Errorf("%w: secret is empty", ErrMissingConfig)
	case k.Scope == "":
		return fmt.Errorf("%w: scope is empty", ErrMissingConfig)
	}
	return nil
}

// FileProvider exchanges the API key stored in a JSON file for a token.
// The file is read on every Fetch so rotated keys are picked up.
type FileProvider struct {
	cfg    Config
	client *httpx.Client
	now    func() time.Time
}

// Option configures a FileProvider.
type Option func(*FileProvider)

// WithHTTPDoer replaces the underlying HTTP client.
func WithHTTPDoer(doer httpx.HTTPDoer) Option {
	return func(p *FileProvider) { p.client.HTTPDoer = doer }
}

// WithRetryPolicy replaces the transport-level retry policy for the token
// request. It defaults to httpx's DefaultPolicy.
func WithRetryPolicy(policy httpxretry.Policy) Option {
	return func(p *FileProvider) { p.client.RetryPolicy = policy }
}

// WithClock sets the time source used for issue and expiry times.
func WithClock(now func() time.Time) Option {
	return func(p *FileProvider) { p.now = now }
}

// NewFileProvider creates a FileProvider. Zero config fields take defaults.
func NewFileProvider(cfg Config, opts ...Option) *FileProvider {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	p := &FileProvider{
		cfg: cfg,
		client: &httpx.Client{
			RetryPolicy:   httpxretry.DefaultPolicy,
			TimeoutPolicy: timeout.Fixed(cfg.Timeout),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch reads the credentials file and requests a new token.
func (p *FileProvider) Fetch(ctx context.Context) (domain.Credential, error) {
	key, err := p.readKey()
	if err != nil {
		return domain.Credential{}, err
	}

	body, err := json.Marshal(key)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	plan, err := request.NewPlanWithContext(ctx, http.MethodPost, p.cfg.URL, body)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: auth url %q: %w", ErrInvalidConfig, p.cfg.URL, err)
	}
	plan.Header.Set("Content-Type", "application/json")

	exec, err := p.client.Do(plan)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if code := exec.StatusCode(); code < 200 || code > 299 {
		return domain.Credential{}, fmt.Errorf("%w: %s returned status %d", ErrNetworkFailure, p.cfg.URL, code)
	}

	token := strings.TrimSpace(string(exec.Body))
	if token == "" {
		return domain.Credential{}, fmt.Errorf("%w: empty token in response", ErrNetworkFailure)
	}

	issued := p.now()
	slog.Debug("Token fetched", "scope", key.Scope, "attempts", exec.Attempt+1, "took", exec.Duration())
	return domain.Credential{
		Token:     token,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(p.cfg.TokenTTL),
	}, nil
}

func (p *FileProvider) readKey() (apiKey, error) {
	var key apiKey
	if p.cfg.CredentialsFile == "" {
		return key, fmt.Errorf("%w: no credentials file configured", ErrMissingConfig)
	}

	data, err := os.ReadFile(p.cfg.CredentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return key, fmt.Errorf("%w: credentials file %s not found", ErrMissingConfig, p.cfg.CredentialsFile)
	}
	if err != nil {
		return key, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, p.cfg.CredentialsFile, err)
	}

	if err := json.Unmarshal(data, &key); err != nil {
		return key, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, p.cfg.CredentialsFile, err)
	}
	return key, key.validate()
}
