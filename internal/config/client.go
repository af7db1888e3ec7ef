package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientConfig holds the settings of the offline contacts client.
type ClientConfig struct {
	// Remote store
	APIURL         string        `env:"CONTACTS_API_URL" envDefault:"http://localhost:8080"`
	RequestTimeout time.Duration `env:"CONTACTS_REQUEST_TIMEOUT" envDefault:"10s"`

	// Local cache and pending log (bbolt file)
	StatePath string `env:"CONTACTS_STATE_PATH" envDefault:"contacts-state.db"`

	// Connectivity and reconciliation timers
	ProbeInterval time.Duration `env:"CONTACTS_PROBE_INTERVAL" envDefault:"5s"`
	DrainDelay    time.Duration `env:"CONTACTS_DRAIN_DELAY" envDefault:"1s"`
	ReloadDelay   time.Duration `env:"CONTACTS_RELOAD_DELAY" envDefault:"1s"`

	// Random contacts are fetched by the client and posted one by one
	RandomUserURL string        `env:"RANDOMUSER_URL" envDefault:"https://randomuser.me/api/"`
	RandomTimeout time.Duration `env:"RANDOM_TIMEOUT" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`
}

// LoadClient reads a .env file if present, then parses the client settings
// from the environment and validates them.
func LoadClient() (ClientConfig, error) {
	LoadDotEnv()

	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing client config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("validating client config: %w", err)
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("CONTACTS_API_URL must be an absolute http(s) URL")
	}
	if r, err := url.Parse(c.RandomUserURL); err != nil || r.Host == "" {
		return errors.New("RANDOMUSER_URL must be an absolute URL")
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return errors.New("CONTACTS_STATE_PATH must not be empty")
	}
	if c.RequestTimeout <= 0 || c.ProbeInterval <= 0 || c.RandomTimeout <= 0 {
		return errors.New("CONTACTS_REQUEST_TIMEOUT, CONTACTS_PROBE_INTERVAL and RANDOM_TIMEOUT must be positive")
	}
	if c.DrainDelay < 0 || c.ReloadDelay < 0 {
		return errors.New("CONTACTS_DRAIN_DELAY and CONTACTS_RELOAD_DELAY must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	return nil
}
