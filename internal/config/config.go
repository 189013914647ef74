package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Upstream UpstreamConfig `json:"upstream"`
	Storage  StorageConfig  `json:"storage"`
	Identity IdentityConfig `json:"identity"`
	Workflow WorkflowConfig `json:"workflow"`
	Logging  LoggingConfig  `json:"logging"`
	Server   ServerConfig   `json:"server"`
}

// UpstreamConfig points at the OpenAI-compatible completion API.
type UpstreamConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

// StorageConfig selects and configures the persistence driver.
type StorageConfig struct {
	Driver       string `json:"driver"` // "memory", "sqlite", "redis"
	Path         string `json:"path"`   // sqlite database file
	RedisAddr    string `json:"redis_addr"`
	RedisDB      int    `json:"redis_db"`
	RedisTTLDays int    `json:"redis_ttl_days"`
}

// IdentityConfig supplies the credential the initial storage key is derived
// from. Either a raw credential or a user id; the credential wins when both
// are set.
type IdentityConfig struct {
	Credential string `json:"credential"`
	UserID     string `json:"user_id"`
}

// WorkflowConfig tunes the status tracker.
type WorkflowConfig struct {
	ResetDelaySeconds int `json:"reset_delay_seconds"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
	File  string `json:"file"`  // empty means stdout only
}

// ServerConfig controls HTTP server
type ServerConfig struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`
}

// ResetDelay returns the tracker reset delay as a duration.
func (w WorkflowConfig) ResetDelay() time.Duration {
	return time.Duration(w.ResetDelaySeconds) * time.Second
}

// Load reads configuration from file and environment
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var fileCfg Config
		if err := json.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg = &fileCfg
		cfg.applyDefaults()
	} else {
		// Create default config file
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			Endpoint: "http://localhost:11434",
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			Path:         "promptplay.db",
			RedisAddr:    "localhost:6379",
			RedisTTLDays: 30,
		},
		Workflow: WorkflowConfig{
			ResetDelaySeconds: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Port:        8080,
			BindAddress: "127.0.0.1",
		},
	}
}

// applyDefaults fills fields the config file left empty.
func (c *Config) applyDefaults() {
	if c.Upstream.Endpoint == "" {
		c.Upstream.Endpoint = "http://localhost:11434"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "promptplay.db"
	}
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = "localhost:6379"
	}
	if c.Storage.RedisTTLDays == 0 {
		c.Storage.RedisTTLDays = 30
	}
	if c.Workflow.ResetDelaySeconds == 0 {
		c.Workflow.ResetDelaySeconds = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = "127.0.0.1"
	}
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROMPTPLAY_UPSTREAM_ENDPOINT"); v != "" {
		c.Upstream.Endpoint = v
	}
	if v := os.Getenv("PROMPTPLAY_UPSTREAM_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("PROMPTPLAY_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("PROMPTPLAY_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("PROMPTPLAY_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("PROMPTPLAY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.RedisDB = n
		}
	}
	if v := os.Getenv("PROMPTPLAY_IDENTITY_CREDENTIAL"); v != "" {
		c.Identity.Credential = v
	}
	if v := os.Getenv("PROMPTPLAY_IDENTITY_USER_ID"); v != "" {
		c.Identity.UserID = v
	}
	if v := os.Getenv("PROMPTPLAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROMPTPLAY_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("PROMPTPLAY_SERVER_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &c.Server.Port)
	}
	if v := os.Getenv("PROMPTPLAY_SERVER_BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite driver requires a path")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis driver requires an address")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream endpoint is required")
	}

	if c.Server.Port < 1024 && os.Geteuid() != 0 {
		return fmt.Errorf("privileged port %d requires root", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Workflow.ResetDelaySeconds < 0 {
		return fmt.Errorf("workflow reset delay must not be negative")
	}

	return nil
}
