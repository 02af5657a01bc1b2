// Package config loads queryd's configuration from a YAML file plus
// QUERYD_-prefixed environment overrides, and watches the persona registry
// file for hot reloads.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hydra-lab/queryd/internal/backend"
	"github.com/hydra-lab/queryd/internal/orchestrator"
	"github.com/hydra-lab/queryd/internal/personas"
	"github.com/hydra-lab/queryd/internal/quality"
)

// ServerConfig covers the HTTP surface: the API listener and the metrics
// listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig locates the model execution service and bounds how hard we
// lean on it.
type BackendConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	RequestsPerSec float64             `mapstructure:"requests_per_sec"`
	Burst          int                 `mapstructure:"burst"`
	Retry          backend.RetryConfig `mapstructure:"retry"`
}

// CacheConfig selects the result cache backing store. An empty RedisAddr
// selects the in-process store.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// LoggingConfig mirrors zap's two production presets.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full queryd configuration tree.
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Backend      BackendConfig       `mapstructure:"backend"`
	Cache        CacheConfig         `mapstructure:"cache"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator"`
	Quality      quality.Config      `mapstructure:"quality"`
	Logging      LoggingConfig       `mapstructure:"logging"`
	// PersonaRegistry is an optional YAML file overriding the built-in
	// persona set. It is hot-reloaded when it changes on disk.
	PersonaRegistry string `mapstructure:"persona_registry"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8420",
			MetricsAddr:     ":9420",
			ShutdownTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8421",
			RequestsPerSec: 10,
			Burst:          20,
			Retry:          backend.DefaultRetryConfig(),
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Orchestrator: orchestrator.DefaultConfig(),
		Quality:      quality.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path (optional; empty path uses defaults and
// environment only). Environment variables override file values with a
// QUERYD_ prefix and underscores for nesting, e.g. QUERYD_SERVER_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUERYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			// A missing file is fine; env and defaults still apply.
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can see keys
// that never appear in the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.metrics_addr", cfg.Server.MetricsAddr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.requests_per_sec", cfg.Backend.RequestsPerSec)
	v.SetDefault("backend.burst", cfg.Backend.Burst)
	v.SetDefault("backend.retry.max_retries", cfg.Backend.Retry.MaxRetries)
	v.SetDefault("backend.retry.initial_interval", cfg.Backend.Retry.InitialInterval)
	v.SetDefault("backend.retry.max_interval", cfg.Backend.Retry.MaxInterval)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("orchestrator.concurrency", cfg.Orchestrator.Concurrency)
	v.SetDefault("orchestrator.queue_capacity", cfg.Orchestrator.QueueCapacity)
	v.SetDefault("orchestrator.default_timeout", cfg.Orchestrator.DefaultTimeout)
	v.SetDefault("orchestrator.stream_chunk_size", cfg.Orchestrator.StreamChunkSize)
	v.SetDefault("orchestrator.stream_delay", cfg.Orchestrator.StreamDelay)
	v.SetDefault("quality.enabled", cfg.Quality.Enabled)
	v.SetDefault("quality.threshold", cfg.Quality.Threshold)
	v.SetDefault("quality.max_iterations", cfg.Quality.MaxIterations)
	v.SetDefault("quality.strategy", string(cfg.Quality.Strategy))
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("persona_registry", cfg.PersonaRegistry)
}

func validate(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if cfg.Orchestrator.Concurrency < 0 {
		return fmt.Errorf("orchestrator.concurrency must not be negative")
	}
	if cfg.Quality.Threshold < 0 || cfg.Quality.Threshold > 10 {
		return fmt.Errorf("quality.threshold must be in [0,10], got %v", cfg.Quality.Threshold)
	}
	if cfg.Quality.MaxIterations < 0 {
		return fmt.Errorf("quality.max_iterations must not be negative")
	}
	switch cfg.Quality.Strategy {
	case "", quality.StrategyEmpty, quality.StrategyContinue, quality.StrategyImprove:
	default:
		return fmt.Errorf("unknown quality.strategy %q", cfg.Quality.Strategy)
	}
	return nil
}

// Registry loads the configured persona registry, or the built-in default
// when no file is configured.
func (c *Config) Registry() (*personas.Registry, error) {
	if c.PersonaRegistry == "" {
		return personas.DefaultRegistry(), nil
	}
	return personas.LoadRegistry(c.PersonaRegistry)
}
