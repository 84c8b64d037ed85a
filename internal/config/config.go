package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.koinonia/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Backend        Backend `toml:"backend"`
	Feed           Feed    `toml:"feed"`
}

// Backend holds the hosted backend connection settings.
type Backend struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// Feed holds message feed engine tuning.
type Feed struct {
	PageSize          int `toml:"page_size"`
	CacheCap          int `toml:"cache_cap"`
	EchoWindowMS      int `toml:"echo_window_ms"`
	PersistDebounceMS int `toml:"persist_debounce_ms"`
}

// Default returns a config with engine defaults filled in.
func Default() *Config {
	return &Config{
		Feed: Feed{
			PageSize:          20,
			CacheCap:          100,
			EchoWindowMS:      5000,
			PersistDebounceMS: 50,
		},
	}
}

// Load reads config from the given path and applies environment overrides.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
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

// applyEnv overrides file values with KOINONIA_* environment variables.
// A .env file loaded at process start (godotenv) feeds the same path.
func (c *Config) applyEnv() {
	if v := os.Getenv("KOINONIA_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("KOINONIA_ANON_KEY"); v != "" {
		c.Backend.AnonKey = v
	}
	if v := os.Getenv("KOINONIA_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Feed.PageSize = n
		}
	}
}

// EchoWindow returns the echo suppression window as a duration.
func (f Feed) EchoWindow() time.Duration {
	return time.Duration(f.EchoWindowMS) * time.Millisecond
}

// PersistDebounce returns the cache persist debounce as a duration.
func (f Feed) PersistDebounce() time.Duration {
	return time.Duration(f.PersistDebounceMS) * time.Millisecond
}
