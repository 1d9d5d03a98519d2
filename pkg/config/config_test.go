package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Twitter.CT0 = "csrf-token"
	cfg.Twitter.AuthToken = "auth-token"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Scrape.Hashtags) != 4 {
		t.Errorf("expected 4 default hashtags, got %d", len(cfg.Scrape.Hashtags))
	}
	if cfg.Scrape.MinTweets != 2000 {
		t.Errorf("expected default target 2000, got %d", cfg.Scrape.MinTweets)
	}
	if cfg.Scrape.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Scrape.Workers)
	}
	if !cfg.Browser.Headless {
		t.Error("browser should default to headless")
	}
	if cfg.Browser.KeystrokeDelayMin != 100*time.Millisecond || cfg.Browser.KeystrokeDelayMax != 150*time.Millisecond {
		t.Errorf("unexpected keystroke delay bounds: %v..%v",
			cfg.Browser.KeystrokeDelayMin, cfg.Browser.KeystrokeDelayMax)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("expected 60 requests per minute, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("unexpected listen address %q", cfg.Server.ListenAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
twitter:
  username: config_user
scrape:
  min_tweets: 500
  workers: 5
storage:
  batch_size: 250
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Twitter.Username != "config_user" {
		t.Errorf("username = %q, want config_user", cfg.Twitter.Username)
	}
	if cfg.Scrape.MinTweets != 500 {
		t.Errorf("min_tweets = %d, want 500", cfg.Scrape.MinTweets)
	}
	if cfg.Scrape.Workers != 5 {
		t.Errorf("workers = %d, want 5", cfg.Scrape.Workers)
	}
	if cfg.Storage.BatchSize != 250 {
		t.Errorf("batch_size = %d, want 250", cfg.Storage.BatchSize)
	}
	// Untouched values keep their defaults.
	if cfg.Scrape.TimeWindowHours != 24 {
		t.Errorf("time_window_hours = %d, want default 24", cfg.Scrape.TimeWindowHours)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for an explicitly named missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MARKETPULSE_USERNAME", "env_user")
	t.Setenv("MARKETPULSE_CT0", "env_csrf")
	t.Setenv("MARKETPULSE_AUTH_TOKEN", "env_token")
	t.Setenv("MARKETPULSE_HASHTAGS", "#nifty50, #banknifty ,")
	t.Setenv("MARKETPULSE_WORKERS", "7")
	t.Setenv("MARKETPULSE_DEBUG_MODE", "true")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.Twitter.Username != "env_user" {
		t.Errorf("username = %q, want env_user", cfg.Twitter.Username)
	}
	if !cfg.Twitter.HasCookiePair() {
		t.Error("cookie pair from env should be complete")
	}
	want := []string{"#nifty50", "#banknifty"}
	if len(cfg.Scrape.Hashtags) != len(want) {
		t.Fatalf("hashtags = %v, want %v", cfg.Scrape.Hashtags, want)
	}
	for i, tag := range want {
		if cfg.Scrape.Hashtags[i] != tag {
			t.Errorf("hashtags[%d] = %q, want %q", i, cfg.Scrape.Hashtags[i], tag)
		}
	}
	if cfg.Scrape.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Scrape.Workers)
	}
	if cfg.Browser.Headless {
		t.Error("debug mode must disable headless")
	}
}

func TestEnvIgnoresInvalidInt(t *testing.T) {
	t.Setenv("MARKETPULSE_WORKERS", "not-a-number")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	if cfg.Scrape.Workers != 3 {
		t.Errorf("workers = %d, want default 3 for invalid env value", cfg.Scrape.Workers)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MARKETPULSE_WORKERS", "7")
	t.Setenv("MARKETPULSE_USERNAME", "env_user")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	cfg.applyFlags(map[string]interface{}{
		"workers":  2,
		"username": "flag_user",
		"debug":    true,
	})

	if cfg.Scrape.Workers != 2 {
		t.Errorf("workers = %d, flag must win over env", cfg.Scrape.Workers)
	}
	if cfg.Twitter.Username != "flag_user" {
		t.Errorf("username = %q, flag must win over env", cfg.Twitter.Username)
	}
	if cfg.Browser.Headless {
		t.Error("debug flag must disable headless")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid with cookie pair", func(c *Config) {}, false},
		{"valid with login pair", func(c *Config) {
			c.Twitter.CT0 = ""
			c.Twitter.AuthToken = ""
			c.Twitter.Username = "trader_one"
			c.Twitter.Password = "hunter2"
		}, false},
		{"no credentials at all", func(c *Config) {
			c.Twitter.CT0 = ""
			c.Twitter.AuthToken = ""
		}, true},
		{"half a cookie pair", func(c *Config) {
			c.Twitter.AuthToken = ""
		}, true},
		{"no hashtags", func(c *Config) {
			c.Scrape.Hashtags = nil
		}, true},
		{"zero workers", func(c *Config) {
			c.Scrape.Workers = 0
		}, true},
		{"inverted keystroke bounds", func(c *Config) {
			c.Browser.KeystrokeDelayMin = 200 * time.Millisecond
			c.Browser.KeystrokeDelayMax = 100 * time.Millisecond
		}, true},
		{"flat backoff", func(c *Config) {
			c.RateLimit.BackoffMultiplier = 1.0
		}, true},
		{"no database", func(c *Config) {
			c.Storage.DatabaseURL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
