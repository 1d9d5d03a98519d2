package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the marketpulse pipeline. It is built
// once at startup and passed explicitly into constructors; no package reads
// process state ambiently.
type Config struct {
	Twitter   TwitterConfig   `yaml:"twitter" json:"twitter"`
	Scrape    ScrapeConfig    `yaml:"scrape" json:"scrape"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// TwitterConfig holds the platform credentials. Either the cookie pair
// (CT0 + AuthToken) or the login pair (Username + Password) must be present.
type TwitterConfig struct {
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
	Email     string `yaml:"email" json:"email"`
	CT0       string `yaml:"ct0" json:"-"`
	AuthToken string `yaml:"auth_token" json:"-"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// ScrapeConfig bounds one collection session.
type ScrapeConfig struct {
	Hashtags        []string      `yaml:"hashtags" json:"hashtags"`
	TimeWindowHours int           `yaml:"time_window_hours" json:"time_window_hours"`
	MinTweets       int           `yaml:"min_tweets" json:"min_tweets"`
	Workers         int           `yaml:"workers" json:"workers"`
	PageSize        int           `yaml:"page_size" json:"page_size"`
	SessionTimeout  time.Duration `yaml:"session_timeout" json:"session_timeout"`
	MaxWorkerErrors int           `yaml:"max_worker_errors" json:"max_worker_errors"`
}

// BrowserConfig tunes the automated login flow. The keystroke delay bounds are
// part of the anti-detection contract, not a cosmetic detail.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" json:"headless"`
	KeystrokeDelayMin time.Duration `yaml:"keystroke_delay_min" json:"keystroke_delay_min"`
	KeystrokeDelayMax time.Duration `yaml:"keystroke_delay_max" json:"keystroke_delay_max"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout" json:"verify_timeout"`
}

// RateLimitConfig tunes request pacing and rate-limit backoff.
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BackoffBase       time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
}

// StorageConfig locates the record store and the batch archive.
type StorageConfig struct {
	DatabaseURL   string        `yaml:"database_url" json:"-"`
	BatchDir      string        `yaml:"batch_dir" json:"batch_dir"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Twitter: TwitterConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		Scrape: ScrapeConfig{
			Hashtags:        []string{"#nifty50", "#sensex", "#intraday", "#banknifty"},
			TimeWindowHours: 24,
			MinTweets:       2000,
			Workers:         3,
			PageSize:        100,
			SessionTimeout:  30 * time.Minute,
			MaxWorkerErrors: 5,
		},
		Browser: BrowserConfig{
			Headless:          true,
			KeystrokeDelayMin: 100 * time.Millisecond,
			KeystrokeDelayMax: 150 * time.Millisecond,
			NavigationTimeout: 30 * time.Second,
			VerifyTimeout:     15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BackoffBase:       2 * time.Second,
			BackoffMax:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			MaxRetries:        5,
		},
		Storage: StorageConfig{
			DatabaseURL:   "postgres://localhost/marketpulse?sslmode=disable",
			BatchDir:      "./data/batches",
			BatchSize:     500,
			FlushInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then .env, then the YAML
// file (if any), then environment variables, then CLI flag overrides.
func Load(path string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional; missing file is not an error.
	_ = godotenv.Load()

	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()
	cfg.applyFlags(flags)

	return cfg, nil
}

// LoadFromFile merges a YAML config file into the receiver. An empty path
// falls back to the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func findConfigFile() string {
	locations := []string{
		".marketpulse.yaml",
		".marketpulse.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "marketpulse", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv merges MARKETPULSE_* environment variables into the receiver.
func (c *Config) LoadFromEnv() {
	setString(&c.Twitter.Username, "MARKETPULSE_USERNAME")
	setString(&c.Twitter.Password, "MARKETPULSE_PASSWORD")
	setString(&c.Twitter.Email, "MARKETPULSE_EMAIL")
	setString(&c.Twitter.CT0, "MARKETPULSE_CT0")
	setString(&c.Twitter.AuthToken, "MARKETPULSE_AUTH_TOKEN")
	setString(&c.Twitter.UserAgent, "MARKETPULSE_USER_AGENT")

	if v := os.Getenv("MARKETPULSE_HASHTAGS"); v != "" {
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			c.Scrape.Hashtags = tags
		}
	}
	setInt(&c.Scrape.TimeWindowHours, "MARKETPULSE_TIME_WINDOW_HOURS")
	setInt(&c.Scrape.MinTweets, "MARKETPULSE_MIN_TWEETS")
	setInt(&c.Scrape.Workers, "MARKETPULSE_WORKERS")
	setInt(&c.RateLimit.RequestsPerMinute, "MARKETPULSE_REQUESTS_PER_MINUTE")

	if v := os.Getenv("MARKETPULSE_DEBUG_MODE"); v != "" {
		// Debug mode shows the automation UI instead of running headless.
		c.Browser.Headless = strings.ToLower(v) != "true"
	}

	setString(&c.Storage.DatabaseURL, "MARKETPULSE_DATABASE_URL")
	setString(&c.Storage.BatchDir, "MARKETPULSE_BATCH_DIR")
	setString(&c.Server.ListenAddr, "MARKETPULSE_LISTEN_ADDR")
	setString(&c.Logging.Level, "MARKETPULSE_LOG_LEVEL")
	setString(&c.Logging.File, "MARKETPULSE_LOG_FILE")
}

func (c *Config) applyFlags(flags map[string]interface{}) {
	for key, value := range flags {
		switch key {
		case "username":
			c.Twitter.Username = value.(string)
		case "ct0":
			c.Twitter.CT0 = value.(string)
		case "auth-token":
			c.Twitter.AuthToken = value.(string)
		case "workers":
			c.Scrape.Workers = value.(int)
		case "min-tweets":
			c.Scrape.MinTweets = value.(int)
		case "window-hours":
			c.Scrape.TimeWindowHours = value.(int)
		case "database-url":
			c.Storage.DatabaseURL = value.(string)
		case "listen":
			c.Server.ListenAddr = value.(string)
		case "debug":
			c.Browser.Headless = !value.(bool)
		case "log-level":
			c.Logging.Level = value.(string)
		}
	}
}

// HasCookiePair reports whether pre-extracted session cookies are configured.
func (t *TwitterConfig) HasCookiePair() bool {
	return t.CT0 != "" && t.AuthToken != ""
}

// HasLoginPair reports whether browser-login credentials are configured.
func (t *TwitterConfig) HasLoginPair() bool {
	return t.Username != "" && t.Password != ""
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if !c.Twitter.HasCookiePair() && !c.Twitter.HasLoginPair() {
		errs = append(errs, errors.New("credentials missing: provide ct0+auth_token or username+password"))
	}
	if len(c.Scrape.Hashtags) == 0 {
		errs = append(errs, errors.New("at least one hashtag is required"))
	}
	if c.Scrape.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Scrape.TimeWindowHours <= 0 {
		errs = append(errs, errors.New("time window must be positive"))
	}
	if c.Browser.KeystrokeDelayMin <= 0 || c.Browser.KeystrokeDelayMax < c.Browser.KeystrokeDelayMin {
		errs = append(errs, errors.New("keystroke delay bounds are invalid"))
	}
	if c.RateLimit.BackoffMultiplier <= 1.0 {
		errs = append(errs, errors.New("backoff multiplier must exceed 1.0"))
	}
	if c.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("database URL is required"))
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
