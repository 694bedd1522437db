// Package config provides configuration for the marketplace web client.
// Values come from environment variables, optionally overlaid on a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is the remote deal service used when no override is configured.
const DefaultAPIURL = "https://api.dealbridge.io"

// Config holds all configuration for the web client.
type Config struct {
	// APIURL is the base URL of the remote deal service.
	APIURL string `env:"API_URL" yaml:"api_url"`

	// ListenAddr is the address the web client listens on.
	ListenAddr string `env:"LISTEN_ADDR" yaml:"listen_addr"`

	// RequestTimeout bounds every call to the remote deal service.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown of the web server.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	// SecureCookies marks session cookies Secure (disable for local dev).
	SecureCookies bool `env:"SECURE_COOKIES" yaml:"secure_cookies"`

	// LogJSON selects JSON log output; text otherwise.
	LogJSON bool `env:"LOG_JSON" yaml:"log_json"`

	// LogDebug enables debug-level logging.
	LogDebug bool `env:"LOG_DEBUG" yaml:"log_debug"`
}

func defaults() Config {
	return Config{
		APIURL:          DefaultAPIURL,
		ListenAddr:      ":8090",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		SecureCookies:   true,
		LogJSON:         true,
	}
}

// Load reads configuration from CONFIG_FILE (if set) and the environment.
// Environment variables win over the file, which wins over defaults.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return errors.New("API_URL must not be empty")
	}
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
