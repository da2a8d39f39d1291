// Package config loads the server configuration from a YAML file with
// environment variable overrides for credentials and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	KIS       KISConfig       `yaml:"kis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Batch     BatchConfig     `yaml:"batch"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type KISConfig struct {
	AppKey         string `yaml:"app_key"`
	AppSecret      string `yaml:"app_secret"`
	BaseURL        string `yaml:"base_url"`
	HTTPTimeoutSec int    `yaml:"http_timeout_sec"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	WindowLimit       int `yaml:"window_limit"`
	WindowSec         int `yaml:"window_sec"`
}

type CacheConfig struct {
	// Backend selects "redis" or "memory".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	// Timezone of the exchange whose trading hours drive TTLs.
	Timezone string `yaml:"timezone"`
}

type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	TimeoutSec     int `yaml:"timeout_sec"`
}

// Load reads the YAML file at path, fills defaults, then applies
// environment overrides. A missing file is an error; use Default() when no
// file is expected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration, with environment overrides
// still applied by the caller via LoadOrDefault.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
		KIS: KISConfig{
			BaseURL:        "https://openapi.koreainvestment.com:9443",
			HTTPTimeoutSec: 30,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 3,
			WindowLimit:       50,
			WindowSec:         60,
		},
		Cache: CacheConfig{
			Backend:  "redis",
			RedisURL: "redis://localhost:6379/0",
			Timezone: "Asia/Seoul",
		},
		Batch: BatchConfig{
			MaxConcurrency: 3,
			TimeoutSec:     10,
		},
	}
}

// LoadOrDefault loads from path when it exists, otherwise the defaults.
// Environment overrides apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start the server.
func (c *Config) Validate() error {
	if c.KIS.AppKey == "" || c.KIS.AppSecret == "" {
		return fmt.Errorf("kis.app_key and kis.app_secret are required (or KIS_APP_KEY / KIS_APP_SECRET)")
	}
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.WindowLimit <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	return nil
}

// HTTPTimeout returns the KIS call timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.KIS.HTTPTimeoutSec) * time.Second
}

// Window returns the rate limit window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowSec) * time.Second
}

// BatchTimeout returns the per-quote batch timeout as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Batch.TimeoutSec) * time.Second
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		cfg.KIS.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		cfg.KIS.AppSecret = v
	}
	if v := os.Getenv("KIS_BASE_URL"); v != "" {
		cfg.KIS.BaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	return nil
}
