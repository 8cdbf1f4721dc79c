// Package config loads the process-start configuration object described in
// spec §6: cache directory, in-memory/persistent cache budgets, min-compress
// bytes, default compression quality, metrics ring size, predictive cache
// enable, scheduled-invalidation tick interval, sandbox base directory.
//
// DESIGN: A YAML file (gopkg.in/yaml.v3, as the teacher does) supplies
// structured defaults; github.com/joho/godotenv loads an adjacent .env for
// secrets/paths that override the file. A single Config.Validate checks the
// loaded values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration (spec §6).
type Config struct {
	DataDir string `yaml:"data_dir"`

	TokenCounter TokenCounterConfig `yaml:"token_counter"`
	Compression  CompressionConfig  `yaml:"compression"`
	Cache        CacheConfig        `yaml:"cache"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Predictive   PredictiveConfig   `yaml:"predictive"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Logger       LoggerConfig       `yaml:"logger"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
}

type TokenCounterConfig struct {
	Model         string `yaml:"model"`
	ResultCacheN  int    `yaml:"result_cache_size"`
	ResultCacheTTLSeconds int `yaml:"result_cache_ttl_seconds"`
}

type CompressionConfig struct {
	DefaultQuality  int `yaml:"default_quality"`
	MinCompressBytes int `yaml:"min_compress_bytes"`
}

type CacheConfig struct {
	Dir                string `yaml:"dir"`
	HotTierMaxBytes    int64  `yaml:"hot_tier_max_bytes"`
	PersistentMaxBytes int64  `yaml:"persistent_max_bytes"`
}

type MetricsConfig struct {
	RingSize int `yaml:"ring_size"`
}

type PredictiveConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InvalidationConfig struct {
	ScheduleTickIntervalSeconds int  `yaml:"schedule_tick_interval_seconds"`
	EnableAudit                 bool `yaml:"enable_audit"`
	MaxAuditEntries             int  `yaml:"max_audit_entries"`
}

type SandboxConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// LoggerConfig mirrors the teacher's own logger config shape.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DashboardConfig controls the optional operator-facing stats HTTP surface.
// Addr left empty disables it.
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// Validate checks compression quality and min-compress bytes, both cache
// byte budgets, the metrics ring size, and that a sandbox base directory is
// set. The token counter, predictive, invalidation, logger and dashboard
// settings are not checked.
func (c *Config) Validate() error {
	if c.Compression.DefaultQuality < MinCompressQuality || c.Compression.DefaultQuality > MaxCompressQuality {
		return fmt.Errorf("compression.default_quality must be within [%d,%d], got %d", MinCompressQuality, MaxCompressQuality, c.Compression.DefaultQuality)
	}
	if c.Compression.MinCompressBytes < 0 {
		return fmt.Errorf("compression.min_compress_bytes must be >= 0, got %d", c.Compression.MinCompressBytes)
	}
	if c.Cache.HotTierMaxBytes <= 0 {
		return fmt.Errorf("cache.hot_tier_max_bytes must be > 0, got %d", c.Cache.HotTierMaxBytes)
	}
	if c.Cache.PersistentMaxBytes <= 0 {
		return fmt.Errorf("cache.persistent_max_bytes must be > 0, got %d", c.Cache.PersistentMaxBytes)
	}
	if c.Metrics.RingSize <= 0 {
		return fmt.Errorf("metrics.ring_size must be > 0, got %d", c.Metrics.RingSize)
	}
	if c.Sandbox.BaseDir == "" {
		return fmt.Errorf("sandbox.base_dir must be set")
	}
	return nil
}

// Default returns a fully populated Config using the defaults in defaults.go.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: home,
		TokenCounter: TokenCounterConfig{
			Model:                 DefaultTokenizerModel,
			ResultCacheN:          DefaultTokenCacheSize,
			ResultCacheTTLSeconds: int(DefaultTokenCacheTTL.Seconds()),
		},
		Compression: CompressionConfig{
			DefaultQuality:   DefaultCompressionQuality,
			MinCompressBytes: MinCompressBytes,
		},
		Cache: CacheConfig{
			Dir:                filepath.Join(home, ".token-optimizer", DefaultCacheDir),
			HotTierMaxBytes:    DefaultHotTierMaxBytes,
			PersistentMaxBytes: DefaultPersistentMaxBytes,
		},
		Metrics: MetricsConfig{
			RingSize: DefaultMetricsRingSize,
		},
		Predictive: PredictiveConfig{
			Enabled: true,
		},
		Invalidation: InvalidationConfig{
			ScheduleTickIntervalSeconds: int(DefaultScheduleTickInterval.Seconds()),
			EnableAudit:                 true,
			MaxAuditEntries:             DefaultMaxAuditEntries,
		},
		Sandbox: SandboxConfig{
			BaseDir: home,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Dashboard: DashboardConfig{
			Addr: DefaultDashboardAddr,
		},
	}
}

// Load reads a YAML file (if it exists) over the defaults, then applies any
// adjacent .env overrides via godotenv, matching the teacher's layering:
// file defaults < environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}

		envPath := filepath.Join(filepath.Dir(path), ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath) // best-effort: missing/malformed .env is not fatal
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets/paths override the file, the same
// precedence the teacher documents for provider API keys.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOKEN_OPTIMIZER_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("TOKEN_OPTIMIZER_SANDBOX_BASE_DIR"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("TOKEN_OPTIMIZER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}
