// Package config loads the settings of the lrucache binaries from a YAML
// file and LRUCACHE_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/notify"
)

// CacheConfig holds the cache settings.
type CacheConfig struct {
	Name        string `yaml:"name"`
	MaxCapacity int    `yaml:"max_capacity"`
	// Expiration of zero means entries never go stale.
	Expiration         time.Duration `yaml:"expiration"`
	StatsResetInterval time.Duration `yaml:"stats_reset_interval"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	UnlockedLoads      bool          `yaml:"unlocked_loads"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SQLConfig points at the SQLite database used by the sqlite backend.
type SQLConfig struct {
	DSN string `yaml:"dsn"`
}

// BusConfig selects where removal events are published.
type BusConfig struct {
	Kind         string   `yaml:"kind"` // memory, redis, nats or kafka
	Topic        string   `yaml:"topic"`
	NATSURL      string   `yaml:"nats_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// Config is the root configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	SQL       SQLConfig       `yaml:"sql"`
	Bus       BusConfig       `yaml:"bus"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Name:        "default",
			MaxCapacity: cache.DefaultMaxCapacity,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		SQL: SQLConfig{
			DSN: "lrucache.db",
		},
		Bus: BusConfig{
			Kind:         "memory",
			Topic:        notify.DefaultTopic,
			NATSURL:      "nats://127.0.0.1:4222",
			KafkaBrokers: []string{"localhost:9092"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: ":9090",
		},
	}
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("LRUCACHE_NAME"); v != "" {
		cfg.Cache.Name = v
	}
	if v := os.Getenv("LRUCACHE_MAX_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LRUCACHE_MAX_CAPACITY: %w", err)
		}
		cfg.Cache.MaxCapacity = n
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"LRUCACHE_EXPIRATION", &cfg.Cache.Expiration},
		{"LRUCACHE_STATS_RESET_INTERVAL", &cfg.Cache.StatsResetInterval},
		{"LRUCACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("LRUCACHE_UNLOCKED_LOADS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LRUCACHE_UNLOCKED_LOADS: %w", err)
		}
		cfg.Cache.UnlockedLoads = b
	}
	if v := os.Getenv("LRUCACHE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LRUCACHE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LRUCACHE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LRUCACHE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("LRUCACHE_SQL_DSN"); v != "" {
		cfg.SQL.DSN = v
	}
	if v := os.Getenv("LRUCACHE_BUS_KIND"); v != "" {
		cfg.Bus.Kind = v
	}
	if v := os.Getenv("LRUCACHE_BUS_TOPIC"); v != "" {
		cfg.Bus.Topic = v
	}
	if v := os.Getenv("LRUCACHE_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("LRUCACHE_KAFKA_BROKERS"); v != "" {
		cfg.Bus.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LRUCACHE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LRUCACHE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LRUCACHE_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("LRUCACHE_TRACING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LRUCACHE_TRACING: %w", err)
		}
		cfg.Telemetry.Tracing = b
	}
	return nil
}

// Validate checks the cache settings the same way cache.New does and
// rejects unknown log settings.
func (c *Config) Validate() error {
	cc := cache.DefaultConfig[string, struct{}]()
	for _, opt := range CacheOptions[struct{}](c.Cache) {
		opt(&cc)
	}
	if err := cc.Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Bus.Kind {
	case "", "memory", "redis", "nats", "kafka":
	default:
		return fmt.Errorf("config: unknown bus kind %q", c.Bus.Kind)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// CacheOptions converts the cache section to options for cache.New.
func CacheOptions[V any](c CacheConfig) []cache.Option[string, V] {
	opts := []cache.Option[string, V]{
		cache.WithMaxCapacity[string, V](c.MaxCapacity),
		cache.WithStatsResetInterval[string, V](c.StatsResetInterval),
		cache.WithSweepInterval[string, V](c.SweepInterval),
	}
	if c.Name != "" {
		opts = append(opts, cache.WithName[string, V](c.Name))
	}
	if c.Expiration != 0 {
		opts = append(opts, cache.WithExpiration[string, V](c.Expiration))
	}
	if c.UnlockedLoads {
		opts = append(opts, cache.WithUnlockedLoads[string, V]())
	}
	return opts
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, lc LogConfig) (*slog.Logger, error) {
	lvl, err := ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
