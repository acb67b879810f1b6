// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Auth     AuthConfig     `yaml:"auth"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimitRPS    int           `yaml:"rate_limit_rps" env:"SERVER_RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"SERVER_RATE_LIMIT_BURST"`
	AuditFile       string        `yaml:"audit_file" env:"SERVER_AUDIT_FILE"`
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

// RedisConfig selects the job queue backend. An empty address keeps the
// in-process queue.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	QueueKey string `yaml:"queue_key" env:"REDIS_QUEUE_KEY"`
}

// ProviderConfig points at the model provider gateway.
type ProviderConfig struct {
	URL     string `yaml:"url" env:"PROVIDER_URL"`
	APIKey  string `yaml:"api_key" env:"PROVIDER_API_KEY"`
	Mock    bool   `yaml:"mock" env:"PROVIDER_MOCK"`
	Workers int    `yaml:"workers" env:"PROVIDER_WORKERS"`
}

// AuthConfig carries the JWT signing secret.
type AuthConfig struct {
	Secret string `yaml:"secret" env:"AUTH_SECRET"`
}

// UploadsConfig controls where normalized file inputs are stored.
type UploadsConfig struct {
	Dir     string `yaml:"dir" env:"UPLOADS_DIR"`
	BaseURL string `yaml:"base_url" env:"UPLOADS_BASE_URL"`
}

// LoggingConfig mirrors pkg/logger's options.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Redis: RedisConfig{
			QueueKey: "renderdeck:generation_jobs",
		},
		Provider: ProviderConfig{
			Workers: 2,
		},
		Uploads: UploadsConfig{
			Dir:     "data/uploads",
			BaseURL: "/uploads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables. Path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	// envdecode reports when no env tag matched anything; that just means
	// nothing was overridden.
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server addr is required")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth secret is required")
	}
	if c.Provider.Workers <= 0 {
		return fmt.Errorf("provider workers must be positive")
	}
	return nil
}
