// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the frontier and fetcher pool.
type CrawlerConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	MaxDepthDefault   int     `mapstructure:"max_depth_default"`
	MaxPagesDefault   int     `mapstructure:"max_pages_default"`
	MaxRetries        int     `mapstructure:"max_retries"`
	UserAgent         string  `mapstructure:"user_agent"`
	PerHostRPS        float64 `mapstructure:"per_host_rps"`
	PerHostBurst      int     `mapstructure:"per_host_burst"`
	FreshnessWindow   string  `mapstructure:"freshness_window"`
	DrainGraceSeconds int     `mapstructure:"drain_grace_seconds"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// HTTPConfig configures fetch timeout and retry backoff behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StorageConfig selects and parameterizes the persistence backends.
type StorageConfig struct {
	Provider         string `mapstructure:"provider"`
	BaseDir          string `mapstructure:"base_dir"`
	CompressMinBytes int    `mapstructure:"compress_min_bytes"`
	DSN              string `mapstructure:"dsn"`
	FrontierPath     string `mapstructure:"frontier_path"`
}

// SessionsConfig locates session bookkeeping artifacts.
type SessionsConfig struct {
	LogsPath string `mapstructure:"logs_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_pages_default", 200)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.user_agent", "webarchive-bot/0.1")
	v.SetDefault("crawler.per_host_rps", 1)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.freshness_window", "24h")
	v.SetDefault("crawler.drain_grace_seconds", 10)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.compress_min_bytes", 512)
	v.SetDefault("storage.frontier_path", "data/frontier")
	v.SetDefault("sessions.logs_path", "data/logs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "memory", "local", "postgres":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set when provider is postgres")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := c.Freshness(); err != nil {
		return err
	}
	return nil
}

// FetchTimeout returns the per-fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// DrainGrace returns how long in-flight fetches may run after cancel.
func (c Config) DrainGrace() time.Duration {
	return time.Duration(c.Crawler.DrainGraceSeconds) * time.Second
}

// Freshness parses the recrawl window. Zero disables recrawling
// already-archived URLs.
func (c Config) Freshness() (time.Duration, error) {
	if c.Crawler.FreshnessWindow == "" || c.Crawler.FreshnessWindow == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Crawler.FreshnessWindow)
	if err != nil {
		return 0, fmt.Errorf("parse crawler.freshness_window: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("crawler.freshness_window must be >= 0")
	}
	return d, nil
}
