// Package config provides configuration management for ArtShare.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Points      PointsConfig      `mapstructure:"points"`
	Lock        LockConfig        `mapstructure:"lock"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds object store settings.
// Supports PostgreSQL, SQLite and a volatile in-memory store.
type DatabaseConfig struct {
	// Driver specifies the store driver: "postgres", "sqlite" or "memory".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if the store lives inside the process (SQLite or memory).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite" || c.Driver == "memory"
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheConfig holds settings of the external object cache.
type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend string `mapstructure:"backend"`

	// ObjectTTL bounds the lifetime of cached entities. Zero keeps them until overwritten.
	ObjectTTL time.Duration `mapstructure:"object_ttl"`

	// CleanupInterval is how often the memory backend evicts expired keys.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// StorageConfig holds image storage backend settings.
type StorageConfig struct {
	Backend      string          `mapstructure:"backend"`
	DataDir      string          `mapstructure:"data_dir"`
	MaxImageSize int64           `mapstructure:"max_image_size"`
	S3           S3StorageConfig `mapstructure:"s3"`
}

// S3StorageConfig holds S3 backend settings.
type S3StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// PointsConfig holds the points economy thresholds and rates.
type PointsConfig struct {
	// MinWithdrawal is the balance required before a withdrawal is allowed.
	MinWithdrawal int64 `mapstructure:"min_withdrawal"`

	// CurrencyRate is the currency value of one point, as a decimal string.
	CurrencyRate string `mapstructure:"currency_rate"`

	// PointsPerCurrencyUnit is how many points one currency unit buys.
	PointsPerCurrencyUnit int64 `mapstructure:"points_per_currency_unit"`

	// MinPurchase is the smallest accepted purchase amount in currency units.
	MinPurchase string `mapstructure:"min_purchase"`
}

// Rate parses CurrencyRate.
func (c PointsConfig) Rate() (decimal.Decimal, error) {
	return decimal.NewFromString(c.CurrencyRate)
}

// MinPurchaseAmount parses MinPurchase.
func (c PointsConfig) MinPurchaseAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MinPurchase)
}

// LockConfig holds settings of the transfer locks.
type LockConfig struct {
	// Backend is "redis", "memory" or "noop".
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// MaintenanceConfig holds settings of the periodic integrity sweep.
type MaintenanceConfig struct {
	// Enabled determines if the sweep runs automatically.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run the sweep.
	Interval time.Duration `mapstructure:"interval"`

	// DryRun logs what would be repaired without writing.
	DryRun bool `mapstructure:"dry_run"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with ARTSHARE_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ARTSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/artshare")
	}

	// Config file is optional; defaults and environment variables suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "artshare")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "artshare")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/artshare.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.object_ttl", time.Duration(0))
	v.SetDefault("cache.cleanup_interval", time.Minute)

	// Storage defaults
	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.data_dir", "./data/images")
	v.SetDefault("storage.max_image_size", 16*1024*1024) // 16MB
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.prefix", "images/")

	// Points defaults
	v.SetDefault("points.min_withdrawal", 1000)
	v.SetDefault("points.currency_rate", "0.01")
	v.SetDefault("points.points_per_currency_unit", 100)
	v.SetDefault("points.min_purchase", "1")

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("lock.max_retries", 20)
	v.SetDefault("lock.retry_delay", 50*time.Millisecond)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.interval", time.Hour)
	v.SetDefault("maintenance.dry_run", false)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be 'postgres', 'sqlite' or 'memory'")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.backend 'redis' requires redis.enabled")
		}
	default:
		return fmt.Errorf("cache.backend must be 'redis' or 'memory'")
	}
	if c.Cache.ObjectTTL < 0 {
		return fmt.Errorf("cache.object_ttl must not be negative")
	}

	switch c.Lock.Backend {
	case "memory", "noop":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock.backend 'redis' requires redis.enabled")
		}
	default:
		return fmt.Errorf("lock.backend must be 'redis', 'memory' or 'noop'")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}

	switch c.Storage.Backend {
	case "filesystem":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for filesystem backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'filesystem' or 's3'")
	}
	if c.Storage.MaxImageSize <= 0 {
		return fmt.Errorf("storage.max_image_size must be positive")
	}

	if c.Points.MinWithdrawal < 0 {
		return fmt.Errorf("points.min_withdrawal must not be negative")
	}
	if c.Points.PointsPerCurrencyUnit <= 0 {
		return fmt.Errorf("points.points_per_currency_unit must be positive")
	}
	rate, err := c.Points.Rate()
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("points.currency_rate must be a positive decimal")
	}
	if _, err := c.Points.MinPurchaseAmount(); err != nil {
		return fmt.Errorf("points.min_purchase must be a decimal")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
