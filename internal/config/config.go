// Package config provides configuration management for the Meridian upload
// coordinator. Configuration can be loaded from YAML files and environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server       Server       `mapstructure:"server"`
	SessionStore SessionStore `mapstructure:"session_store"`
	Redis        Redis        `mapstructure:"redis"`
	Lock         Lock         `mapstructure:"lock"`
	S3           S3           `mapstructure:"s3"`
	Upload       Upload       `mapstructure:"upload"`
	Cleanup      Cleanup      `mapstructure:"cleanup"`
	Logging      Logging      `mapstructure:"logging"`
	Metrics      Metrics      `mapstructure:"metrics"`
}

// Server holds HTTP server settings.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c Server) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionStore holds session persistence settings.
type SessionStore struct {
	// Driver selects the backend: "memory", "redis", "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres").
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

	// SQLite settings (used when Driver is "sqlite").
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	SynchronousMode string `mapstructure:"synchronous_mode"`
}

// Redis holds Redis connection settings, shared by the redis session store
// and the redis lock driver.
type Redis struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c Redis) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Lock holds distributed lock settings.
type Lock struct {
	// Driver selects the lock backend: "memory", "redis" or "noop".
	Driver string `mapstructure:"driver"`
}

// S3 holds object storage backend settings.
type S3 struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	// (MinIO, R2, etc.).
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`

	// PublicBaseURL, when set, is used to build final object URLs instead
	// of the bucket endpoint (e.g. a CDN domain).
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// Upload holds upload protocol settings.
type Upload struct {
	// SimpleUploadThreshold is the file size below which a single
	// presigned PUT is used instead of a multipart session.
	SimpleUploadThreshold int64 `mapstructure:"simple_upload_threshold"`

	// MaxFileSize is the largest accepted file.
	MaxFileSize int64 `mapstructure:"max_file_size"`

	// PresignTTL is how long presigned part URLs stay valid.
	PresignTTL time.Duration `mapstructure:"presign_ttl"`

	// DownloadTTL is how long presigned download URLs stay valid.
	DownloadTTL time.Duration `mapstructure:"download_ttl"`

	// EagerPresignBatch is how many part URLs init returns up front.
	EagerPresignBatch int `mapstructure:"eager_presign_batch"`

	// MaxPresignBatch caps the part numbers accepted per presign request.
	MaxPresignBatch int `mapstructure:"max_presign_batch"`
}

// Cleanup holds stale session sweeper settings.
type Cleanup struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Logging holds logging settings.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics holds Prometheus metrics settings.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values and are prefixed
// with MERIDIAN_, using _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MERIDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/meridian")
	}

	// Config file not found is acceptable: defaults and env vars suffice.
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Session store defaults
	v.SetDefault("session_store.driver", "memory")
	v.SetDefault("session_store.host", "localhost")
	v.SetDefault("session_store.port", 5432)
	v.SetDefault("session_store.user", "meridian")
	v.SetDefault("session_store.password", "")
	v.SetDefault("session_store.database", "meridian")
	v.SetDefault("session_store.ssl_mode", "prefer")
	v.SetDefault("session_store.max_open_conns", 25)
	v.SetDefault("session_store.max_idle_conns", 5)
	v.SetDefault("session_store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("session_store.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("session_store.path", "./data/meridian.db")
	v.SetDefault("session_store.journal_mode", "WAL")
	v.SetDefault("session_store.busy_timeout", 5000)
	v.SetDefault("session_store.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.driver", "memory")

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.use_path_style", false)

	// Upload defaults
	v.SetDefault("upload.simple_upload_threshold", 5*1024*1024)
	v.SetDefault("upload.max_file_size", 10*1024*1024*1024)
	v.SetDefault("upload.presign_ttl", 15*time.Minute)
	v.SetDefault("upload.download_ttl", 15*time.Minute)
	v.SetDefault("upload.eager_presign_batch", 100)
	v.SetDefault("upload.max_presign_batch", 20)

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", 1*time.Hour)
	v.SetDefault("cleanup.retention", 24*time.Hour)
	v.SetDefault("cleanup.batch_size", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validStores := map[string]bool{"memory": true, "redis": true, "sqlite": true, "postgres": true}
	if !validStores[c.SessionStore.Driver] {
		return fmt.Errorf("session_store.driver must be 'memory', 'redis', 'sqlite' or 'postgres'")
	}
	switch c.SessionStore.Driver {
	case "postgres":
		if c.SessionStore.Host == "" {
			return fmt.Errorf("session_store.host is required for postgres driver")
		}
		if c.SessionStore.User == "" {
			return fmt.Errorf("session_store.user is required for postgres driver")
		}
		if c.SessionStore.Database == "" {
			return fmt.Errorf("session_store.database is required for postgres driver")
		}
	case "sqlite":
		if c.SessionStore.Path == "" {
			return fmt.Errorf("session_store.path is required for sqlite driver")
		}
	}

	validLocks := map[string]bool{"memory": true, "redis": true, "noop": true}
	if !validLocks[c.Lock.Driver] {
		return fmt.Errorf("lock.driver must be 'memory', 'redis' or 'noop'")
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}

	if c.Upload.SimpleUploadThreshold <= 0 {
		return fmt.Errorf("upload.simple_upload_threshold must be positive")
	}
	if c.Upload.MaxFileSize < c.Upload.SimpleUploadThreshold {
		return fmt.Errorf("upload.max_file_size must be at least the simple upload threshold")
	}
	if c.Upload.PresignTTL <= 0 {
		return fmt.Errorf("upload.presign_ttl must be positive")
	}
	if c.Upload.MaxPresignBatch < 1 {
		return fmt.Errorf("upload.max_presign_batch must be at least 1")
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

// MustLoad loads configuration or panics on error. Useful for main function
// initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
