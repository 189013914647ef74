package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFrom(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return Load(path)
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default driver = %q", cfg.Storage.Driver)
	}
	if cfg.Workflow.ResetDelay() != 3*time.Second {
		t.Errorf("default reset delay = %v", cfg.Workflow.ResetDelay())
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}

	// Missing file is created with defaults
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFrom(t, `{
		"upstream": {"endpoint": "http://example.test:9999", "api_key": "k"},
		"storage": {"driver": "memory"},
		"workflow": {"reset_delay_seconds": 7},
		"logging": {"level": "debug"},
		"server": {"port": 9090}
	}`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.Endpoint != "http://example.test:9999" {
		t.Errorf("endpoint = %q", cfg.Upstream.Endpoint)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Workflow.ResetDelaySeconds != 7 {
		t.Errorf("reset delay = %d", cfg.Workflow.ResetDelaySeconds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	// Fields the file omitted fall back to defaults
	if cfg.Server.BindAddress != "127.0.0.1" {
		t.Errorf("bind address = %q", cfg.Server.BindAddress)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROMPTPLAY_STORAGE_DRIVER", "redis")
	t.Setenv("PROMPTPLAY_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("PROMPTPLAY_LOG_LEVEL", "warn")
	t.Setenv("PROMPTPLAY_IDENTITY_USER_ID", "user-42")

	cfg, err := loadFrom(t, `{"storage": {"driver": "memory"}}`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Driver != "redis" {
		t.Errorf("env override lost, driver = %q", cfg.Storage.Driver)
	}
	if cfg.Storage.RedisAddr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", cfg.Storage.RedisAddr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Identity.UserID != "user-42" {
		t.Errorf("identity user id = %q", cfg.Identity.UserID)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "papyrus" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.Path = "" }, true},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis"; c.Storage.RedisAddr = "" }, true},
		{"empty endpoint", func(c *Config) { c.Upstream.Endpoint = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"negative reset delay", func(c *Config) { c.Workflow.ResetDelaySeconds = -1 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := defaults()
	cfg.Upstream.Endpoint = "http://api.test"
	cfg.Identity.Credential = "secret"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Upstream.Endpoint != "http://api.test" {
		t.Errorf("endpoint = %q", loaded.Upstream.Endpoint)
	}
	if loaded.Identity.Credential != "secret" {
		t.Errorf("credential = %q", loaded.Identity.Credential)
	}
}
