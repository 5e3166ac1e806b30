package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends accepted by StorageConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Pyth     PythConfig     `mapstructure:"pyth"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Assets   []AssetConfig  `mapstructure:"assets"` // overrides the built-in asset table when set
}

type PythConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second towards Hermes, 0 disables
	Burst     int           `mapstructure:"burst"`
}

type WSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type PollerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"` // upper bound for a single fetch cycle
	Autostart bool          `mapstructure:"autostart"`
}

type SnapshotConfig struct {
	TTL time.Duration `mapstructure:"ttl"` // bulk response reuse window
}

type CacheConfig struct {
	MaxHistory     int           `mapstructure:"max_history"`
	BaselineWindow time.Duration `mapstructure:"baseline_window"`
	BaselineKey    string        `mapstructure:"baseline_key"`
	HistoryKey     string        `mapstructure:"history_key"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory", "postgres" or "redis"
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"` // 0 keeps blobs forever
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	Burst           int           `mapstructure:"burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

type AssetConfig struct {
	ID     string `mapstructure:"id"`
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
	FeedID string `mapstructure:"feed_id"`
	Icon   string `mapstructure:"icon"`
}

// Load loads application configuration using Viper.
// An explicit path wins; otherwise config.yaml is searched next to the working
// directory and the executable. A missing config file is not an error, defaults
// apply. Environment variables override file values (e.g. POLLER_INTERVAL).
func Load(path string) (*Config, error) {
	// .env is optional, it only seeds the process environment
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., PYTH_REST_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pyth.rest.base_url", "https://hermes.pyth.network")
	v.SetDefault("pyth.rest.timeout", 10*time.Second)
	v.SetDefault("pyth.rest.rate_limit", 10)
	v.SetDefault("pyth.rest.burst", 10)
	v.SetDefault("pyth.ws.enabled", false)
	v.SetDefault("pyth.ws.url", "wss://hermes.pyth.network/ws")
	v.SetDefault("pyth.ws.reconnect_delay", 3*time.Second)

	v.SetDefault("poller.interval", time.Second)
	v.SetDefault("poller.timeout", 5*time.Second)
	v.SetDefault("poller.autostart", true)

	v.SetDefault("snapshot.ttl", 500*time.Millisecond)

	v.SetDefault("cache.max_history", 300)
	v.SetDefault("cache.baseline_window", 24*time.Hour)
	v.SetDefault("cache.baseline_key", "crypto_day_start_prices")
	v.SetDefault("cache.history_key", "crypto_price_history")
	v.SetDefault("cache.persist_timeout", 2*time.Second)

	v.SetDefault("storage.backend", BackendMemory)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "pricetracker")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.ssm_prefix", "")
	v.SetDefault("postgres.create_db", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pricetracker:")
	v.SetDefault("redis.ttl", time.Duration(0))

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.burst", 100)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.Timeout <= 0 {
		return fmt.Errorf("poller.timeout must be positive, got %s", c.Poller.Timeout)
	}
	if c.Cache.MaxHistory <= 0 {
		return fmt.Errorf("cache.max_history must be positive, got %d", c.Cache.MaxHistory)
	}
	if c.Cache.BaselineWindow <= 0 {
		return fmt.Errorf("cache.baseline_window must be positive, got %s", c.Cache.BaselineWindow)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	for i, a := range c.Assets {
		if a.ID == "" || a.FeedID == "" {
			return fmt.Errorf("assets[%d]: id and feed_id are required", i)
		}
	}
	return nil
}
