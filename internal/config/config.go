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
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. CHATSYNC_API_URL.
const EnvPrefix = "CHATSYNC"

const (
	DefaultAPIURL           = "http://localhost:5000/api"
	DefaultTypingQuietMS    = 1000
	DefaultReconnectDelayMS = 2000
	DefaultRequestTimeoutMS = 15000
	DefaultLogLevel         = "info"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile   string `toml:"default_profile" envconfig:"DEFAULT_PROFILE"`
	APIURL           string `toml:"api_url" envconfig:"API_URL"`
	PushURL          string `toml:"push_url" envconfig:"PUSH_URL"`
	Token            string `toml:"token" envconfig:"TOKEN"`
	UserID           string `toml:"user_id" envconfig:"USER_ID"`
	TypingQuietMS    int    `toml:"typing_quiet_ms" envconfig:"TYPING_QUIET_MS"`
	ReconnectDelayMS int    `toml:"reconnect_delay_ms" envconfig:"RECONNECT_DELAY_MS"`
	RequestTimeoutMS int    `toml:"request_timeout_ms" envconfig:"REQUEST_TIMEOUT_MS"`
	LogLevel         string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Read layers configuration: defaults, then the file at path when present,
// then .env from the working directory, then CHATSYNC_* variables.
func Read(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// A missing .env is fine.
	_ = godotenv.Load(".env")

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.PushURL == "" {
		c.PushURL = PushURLFor(c.APIURL)
	}
	if c.TypingQuietMS == 0 {
		c.TypingQuietMS = DefaultTypingQuietMS
	}
	if c.ReconnectDelayMS == 0 {
		c.ReconnectDelayMS = DefaultReconnectDelayMS
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = DefaultRequestTimeoutMS
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the fields the daemon depends on.
func (c *Config) Validate() error {
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("push_url", c.PushURL, "ws", "wss"); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"typing_quiet_ms":    c.TypingQuietMS,
		"reconnect_delay_ms": c.ReconnectDelayMS,
		"request_timeout_ms": c.RequestTimeoutMS,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s %q: scheme must be one of %v", field, raw, schemes)
}

// PushURLFor derives the push endpoint from the API base URL: http becomes
// ws, https becomes wss, and the path becomes /ws.
func PushURLFor(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

// TypingQuiet returns the typing-stop delay.
func (c *Config) TypingQuiet() time.Duration {
	return time.Duration(c.TypingQuietMS) * time.Millisecond
}

// ReconnectDelay returns the wait between push channel dials.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
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
