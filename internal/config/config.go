// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Dialog        DialogConfig        `yaml:"dialog"`
	Keyboard      KeyboardConfig      `yaml:"keyboard"`
	StateStore    StateStoreConfig    `yaml:"state_store"`
	Control       ControlConfig       `yaml:"control"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the COOL backend the dialog talks to.
type ServerConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for idempotent round trips.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// DialogConfig describes dialog engine settings.
type DialogConfig struct {
	Dialect          string            `yaml:"dialect"`
	Procedure        string            `yaml:"procedure"`
	CommandLine      string            `yaml:"command_line"`
	ActivateDebounce time.Duration     `yaml:"activate_debounce"`
	FocusDebounce    time.Duration     `yaml:"focus_debounce"`
	Messages         map[string]string `yaml:"messages"`
	// PagesFile names a YAML file mapping procedures and windows to pages.
	PagesFile string `yaml:"pages_file"`
	// AutoAnswer answers message boxes with their default button instead
	// of waiting on the control API.
	AutoAnswer bool `yaml:"auto_answer"`
}

// KeyboardConfig describes the window cycling key combinations, written
// as "Ctrl+Shift+F6".
type KeyboardConfig struct {
	NextWindow string `yaml:"next_window"`
	PrevWindow string `yaml:"prev_window"`
}

// StateStoreConfig describes where per-session UI state is persisted.
type StateStoreConfig struct {
	Driver    string        `yaml:"driver"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	DSNEnv    string        `yaml:"dsn_env"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ControlConfig describes the HTTP control surface.
type ControlConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	Auth            AuthConfig    `yaml:"auth"`
}

// AuthConfig describes JWT verification for the control surface. Auth is
// off when JWKSURL is empty.
type AuthConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
	// ScopeClaim names the claim whose value scopes persisted UI state.
	ScopeClaim string `yaml:"scope_claim"`
}

// Enabled reports whether tokens are verified.
func (a AuthConfig) Enabled() bool {
	return a.JWKSURL != ""
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// State store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Dialog: DialogConfig{
			ActivateDebounce: 50 * time.Millisecond,
			FocusDebounce:    20 * time.Millisecond,
		},
		Keyboard: KeyboardConfig{
			NextWindow: "Ctrl+F6",
			PrevWindow: "Ctrl+Shift+F6",
		},
		StateStore: StateStoreConfig{
			Driver:    DriverMemory,
			AddrEnv:   "COOL_REDIS_ADDR",
			DSNEnv:    "COOL_DATABASE_URL",
			KeyPrefix: "cooldialog",
			TTL:       30 * 24 * time.Hour,
		},
		Control: ControlConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
			Auth: AuthConfig{
				JWKSCacheTTL: time.Hour,
				Algorithms:   []string{"RS256", "ES256"},
				ScopeClaim:   "sub",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.BaseURL == "" {
		errs = append(errs, "server.base_url is required")
	}
	if c.Control.Port < 1 || c.Control.Port > 65535 {
		errs = append(errs, "control.port must be between 1 and 65535")
	}
	switch c.StateStore.Driver {
	case DriverMemory, DriverRedis, DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("state_store.driver %q is not supported", c.StateStore.Driver))
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not supported", c.Observability.LogFormat))
	}
	if c.Server.Retry.MaxAttempts < 1 {
		errs = append(errs, "server.retry.max_attempts must be at least 1")
	}
	if a := c.Control.Auth; a.Enabled() && (a.Issuer == "" || a.Audience == "") {
		errs = append(errs, "control.auth.issuer and control.auth.audience are required with jwks_url")
	}
	if c.Keyboard.NextWindow != "" && c.Keyboard.NextWindow == c.Keyboard.PrevWindow {
		errs = append(errs, "keyboard.next_window and keyboard.prev_window must differ")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads COOL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COOL_SERVER_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("COOL_CONTROL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Control.Port = port
		}
	}
	if v := os.Getenv("COOL_DIALOG_DIALECT"); v != "" {
		cfg.Dialog.Dialect = v
	}
	if v := os.Getenv("COOL_DIALOG_PROCEDURE"); v != "" {
		cfg.Dialog.Procedure = v
	}
	if v := os.Getenv("COOL_STATE_STORE_DRIVER"); v != "" {
		cfg.StateStore.Driver = v
	}
	if v := os.Getenv("COOL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("COOL_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
