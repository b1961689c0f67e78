// Package config loads the proxy configuration from a YAML file and
// M365_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the full proxy configuration.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	SharePoint SharePointConfig `yaml:"sharepoint"`
	Auth       AuthConfig       `yaml:"auth"`
	Batch      BatchConfig      `yaml:"batch"`
	Cache      CacheConfig      `yaml:"cache"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

type GraphConfig struct {
	BaseURL  string `yaml:"base_url" validate:"required,url"`
	BatchURL string `yaml:"batch_url" validate:"required,url"`
}

type SharePointConfig struct {
	// SiteURL is the root site, e.g. https://contoso.sharepoint.com.
	SiteURL string `yaml:"site_url" validate:"omitempty,url"`
}

type AuthConfig struct {
	TenantID     string `yaml:"tenant_id" validate:"required"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	// Authority overrides https://login.microsoftonline.com.
	Authority string `yaml:"authority" validate:"omitempty,url"`
	// Resource is the token audience for Graph calls.
	Resource string `yaml:"resource" validate:"required,url"`
}

type BatchConfig struct {
	WaitTime       time.Duration `yaml:"wait_time" validate:"gt=0"`
	SplitThreshold int           `yaml:"split_threshold" validate:"min=1,max=20"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0"`
	RetryDelay     time.Duration `yaml:"retry_delay" validate:"min=0"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory redis sqlite"`
	RedisAddr  string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	SQLitePath string        `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	TTL        time.Duration `yaml:"ttl" validate:"min=0"`
}

type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	UserAgent      string        `yaml:"user_agent"`
	// RequestsPerSecond of 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// SearchDebounce is the per-client debounce window of /search.
	SearchDebounce time.Duration `yaml:"search_debounce" validate:"min=0"`
}

// Default returns the configuration used for fields absent from file and
// environment. Auth credentials have no default.
func Default() Config {
	return Config{
		Graph: GraphConfig{
			BaseURL:  "https://graph.microsoft.com",
			BatchURL: "https://graph.microsoft.com/v1.0/$batch",
		},
		Auth: AuthConfig{
			Resource: "https://graph.microsoft.com",
		},
		Batch: BatchConfig{
			WaitTime:       500 * time.Millisecond,
			SplitThreshold: 15,
			MaxRetries:     5,
			RetryDelay:     100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
			TTL:     time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			UserAgent:         "m365-client/0.1",
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
			SearchDebounce:  300 * time.Millisecond,
		},
	}
}

// Load reads path (optional, "" skips the file), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and reports every failing field.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
