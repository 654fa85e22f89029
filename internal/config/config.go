// Package config resolves the client configuration from an optional TOML
// file overlaid with environment variables. Environment values win.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	baseURLVar        = "IDENTITY_BASE_URL"
	wsURLVar          = "IDENTITY_WS_URL"
	tenantHeaderVar   = "IDENTITY_TENANT_HEADER"
	keyringPathVar    = "IDENTITY_KEYRING_PATH"
	requestTimeoutVar = "IDENTITY_REQUEST_TIMEOUT"
	configFileVar     = "IDENTITY_CONFIG"
)

// Config holds everything the session core needs to reach the backend.
type Config struct {
	BaseURL         string        `toml:"base_url"`
	NotificationURL string        `toml:"notification_url"`
	TenantHeader    string        `toml:"tenant_header"`
	KeyringPath     string        `toml:"keyring_path"`
	RequestTimeout  time.Duration `toml:"-"`

	// RequestTimeoutSeconds is the file-facing form of RequestTimeout.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`

	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig bounds the notification channel's backoff.
type ReconnectConfig struct {
	InitialIntervalMS int `toml:"initial_interval_ms"`
	MaxIntervalMS     int `toml:"max_interval_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:         "http://localhost:8000",
		NotificationURL: "ws://localhost:8000/ws/notifications",
		TenantHeader:    "X-Tenant-ID",
		KeyringPath:     defaultKeyringPath(),
		RequestTimeout:  30 * time.Second,
		Reconnect: ReconnectConfig{
			InitialIntervalMS: 500,
			MaxIntervalMS:     30_000,
		},
	}
}

// Load resolves the configuration: defaults, then the config file (if any),
// then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	path := GetEnv(configFileVar, defaultConfigPath())
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "[config.Load] decode %s", path)
			}
			if cfg.RequestTimeoutSeconds > 0 {
				cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
			}
		}
	}

	cfg.BaseURL = GetEnv(baseURLVar, cfg.BaseURL)
	cfg.NotificationURL = GetEnv(wsURLVar, cfg.NotificationURL)
	cfg.TenantHeader = GetEnv(tenantHeaderVar, cfg.TenantHeader)
	cfg.KeyringPath = GetEnv(keyringPathVar, cfg.KeyringPath)
	if v := os.Getenv(requestTimeoutVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "[config.Load] parse %s", requestTimeoutVar)
		}
		cfg.RequestTimeout = d
	}

	return cfg, nil
}

// InitialInterval returns the reconnect backoff floor.
func (c Config) InitialInterval() time.Duration {
	return time.Duration(c.Reconnect.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the reconnect backoff ceiling.
func (c Config) MaxInterval() time.Duration {
	return time.Duration(c.Reconnect.MaxIntervalMS) * time.Millisecond
}

// GetEnv returns the environment value for key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".identitykit", "config.toml")
}

func defaultKeyringPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "identitykit.db"
	}
	return filepath.Join(home, ".identitykit", "keyring.db")
}
