package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Environment variables that override config.toml.
const (
	EnvServerURL    = "CHATSYNC_SERVER_URL"
	EnvSyncInterval = "CHATSYNC_SYNC_INTERVAL"
	EnvSession      = "CHATSYNC_SESSION"
)

// Duration is a time.Duration written as a string ("15m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession    string   `toml:"default_session"`
	ServerURL         string   `toml:"server_url"`
	SyncInterval      Duration `toml:"sync_interval"`
	HTTPTimeout       Duration `toml:"http_timeout"`
	BackoffBase       Duration `toml:"backoff_base"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	BackoffMax        Duration `toml:"backoff_max"`
	LogLevel          string   `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:         "http://127.0.0.1:8080",
		SyncInterval:      Duration{15 * time.Minute},
		HTTPTimeout:       Duration{30 * time.Second},
		BackoffBase:       Duration{30 * time.Second},
		BackoffMultiplier: 2,
		BackoffMax:        Duration{30 * time.Minute},
		LogLevel:          "info",
	}
}

// Load reads config from the given path on top of the defaults. Returns
// error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped; variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with the process environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvSyncInterval); v != "" {
		if err := c.SyncInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvSyncInterval, err)
		}
	}
	if v := os.Getenv(EnvSession); v != "" {
		c.DefaultSession = v
	}
	return nil
}

// Validate reports the first setting the daemon cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL)
	}
	if c.SyncInterval.Duration <= 0 {
		return errors.New("sync_interval must be positive")
	}
	if c.HTTPTimeout.Duration <= 0 {
		return errors.New("http_timeout must be positive")
	}
	if c.BackoffBase.Duration <= 0 {
		return errors.New("backoff_base must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return errors.New("backoff_multiplier must be at least 1")
	}
	if c.BackoffMax.Duration < c.BackoffBase.Duration {
		return errors.New("backoff_max must not be below backoff_base")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}
