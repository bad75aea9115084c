// Package config loads the gateway configuration from an optional YAML file and the
// environment. Environment variables override the file; the command line overrides both.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach/upstream"
)

// Environment variables read by Load.
const (
	EnvAPIKey             = "OUTREACH_API_KEY"
	EnvBaseURL            = "OUTREACH_BASE_URL"
	EnvRetryMaxAttempts   = "OUTREACH_RETRY_MAX_ATTEMPTS"
	EnvRetryInitialDelay  = "OUTREACH_RETRY_INITIAL_DELAY"
	EnvRetryMaxDelay      = "OUTREACH_RETRY_MAX_DELAY"
	EnvRetryBackoffFactor = "OUTREACH_RETRY_BACKOFF_FACTOR"
	EnvRequestTimeout     = "OUTREACH_REQUEST_TIMEOUT"
	EnvTotalTimeout       = "OUTREACH_TOTAL_TIMEOUT"
	EnvRateLimit          = "OUTREACH_RATE_LIMIT"
	EnvSSEAddr            = "OUTREACH_SSE_ADDR"
	EnvSSEBaseURL         = "OUTREACH_SSE_BASE_URL"
	EnvSSEKeepAlive       = "OUTREACH_SSE_KEEP_ALIVE"
	EnvSendTimeout        = "OUTREACH_SEND_TIMEOUT"
	EnvLogLevel           = "LOG_LEVEL"
)

// DefaultBaseURL is the upstream API used when none is configured.
const DefaultBaseURL = "https://server.smartlead.ai/api/v1"

// Config is the whole process configuration.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Retry RetryConfig `yaml:"retry"`
	// RequestTimeout bounds a single upstream attempt.
	RequestTimeout Duration `yaml:"request_timeout"`
	// TotalTimeout bounds a whole upstream call, retries included. Zero derives it from the
	// retry policy and RequestTimeout.
	TotalTimeout Duration `yaml:"total_timeout"`
	// RateLimit caps upstream attempts per second, zero disables it.
	RateLimit float64 `yaml:"rate_limit"`

	SSE SSEConfig `yaml:"sse"`
	// SendTimeout bounds the delivery of one message to a client, on every transport.
	SendTimeout Duration `yaml:"send_timeout"`

	LogLevel string `yaml:"log_level"`
}

// RetryConfig mirrors upstream.RetryPolicy.
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	InitialDelay  Duration `yaml:"initial_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
}

// SSEConfig configures the push-stream transport.
type SSEConfig struct {
	// Addr is the listen address of the HTTP server.
	Addr string `yaml:"addr"`
	// BaseURL is the externally visible URL of the server, used to build the message
	// endpoint announced to clients.
	BaseURL   string   `yaml:"base_url"`
	KeepAlive Duration `yaml:"keep_alive"`
}

// Duration is a time.Duration read from YAML or the environment either as a Go duration
// string ("1.5s") or as an integer number of milliseconds.
type Duration time.Duration

// Default returns the configuration used for everything that is not set.
func Default() Config {
	policy := upstream.DefaultRetryPolicy()
	return Config{
		BaseURL: DefaultBaseURL,
		Retry: RetryConfig{
			MaxAttempts:   policy.MaxAttempts,
			InitialDelay:  Duration(policy.InitialDelay),
			MaxDelay:      Duration(policy.MaxDelay),
			BackoffFactor: policy.BackoffFactor,
		},
		RequestTimeout: Duration(30 * time.Second),
		SSE: SSEConfig{
			Addr:      ":8080",
			BaseURL:   "http://localhost:8080",
			KeepAlive: Duration(15 * time.Second),
		},
		SendTimeout: Duration(30 * time.Second),
		LogLevel:    "info",
	}
}

// Load reads the YAML file at path, when path is not empty, over the defaults, then applies
// the environment variables. ${VAR} references in the file's api_key are expanded.
// The result is not validated, see Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.APIKey = expandEnvVars(cfg.APIKey)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(EnvAPIKey, &c.APIKey)
	str(EnvBaseURL, &c.BaseURL)
	integer(EnvRetryMaxAttempts, &c.Retry.MaxAttempts)
	duration(EnvRetryInitialDelay, &c.Retry.InitialDelay)
	duration(EnvRetryMaxDelay, &c.Retry.MaxDelay)
	float(EnvRetryBackoffFactor, &c.Retry.BackoffFactor)
	duration(EnvRequestTimeout, &c.RequestTimeout)
	duration(EnvTotalTimeout, &c.TotalTimeout)
	float(EnvRateLimit, &c.RateLimit)
	str(EnvSSEAddr, &c.SSE.Addr)
	str(EnvSSEBaseURL, &c.SSE.BaseURL)
	duration(EnvSSEKeepAlive, &c.SSE.KeepAlive)
	duration(EnvSendTimeout, &c.SendTimeout)
	str(EnvLogLevel, &c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate reports every problem of the configuration at once. A missing API key is always
// an error: the gateway refuses to start without it.
func (c Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("missing API key: set %s or api_key in the config file", EnvAPIKey))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid base URL %q", c.BaseURL))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", time.Duration(c.RequestTimeout)))
	}
	if c.TotalTimeout < 0 {
		errs = append(errs, fmt.Errorf("total timeout must not be negative, got %s", time.Duration(c.TotalTimeout)))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send timeout must be positive, got %s", time.Duration(c.SendTimeout)))
	}
	if c.SSE.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("keep-alive interval must not be negative, got %s", time.Duration(c.SSE.KeepAlive)))
	}

	return errors.Join(errs...)
}

// RetryPolicy returns the retry policy of the upstream client.
func (c Config) RetryPolicy() upstream.RetryPolicy {
	return upstream.RetryPolicy{
		MaxAttempts:   c.Retry.MaxAttempts,
		InitialDelay:  time.Duration(c.Retry.InitialDelay),
		MaxDelay:      time.Duration(c.Retry.MaxDelay),
		BackoffFactor: c.Retry.BackoffFactor,
	}
}

// Upstream returns the configuration of the upstream client.
func (c Config) Upstream() upstream.Config {
	return upstream.Config{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		Retry:          c.RetryPolicy(),
		AttemptTimeout: time.Duration(c.RequestTimeout),
		TotalTimeout:   time.Duration(c.TotalTimeout),
		RateLimit:      c.RateLimit,
	}
}

// MessageURL returns the URL announced to push-stream clients for posting their messages.
func (c Config) MessageURL() string {
	return strings.TrimSuffix(c.SSE.BaseURL, "/") + "/message"
}

// ParseDuration parses a Go duration string or an integer number of milliseconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(ms) * time.Millisecond), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use a duration like 1.5s or milliseconds", s)
	}
	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// expandEnvVars expands environment variables in the format ${VAR_NAME}
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
