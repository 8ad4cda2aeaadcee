package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for radard.
type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	LogFormat  string          `mapstructure:"log_format"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Ingest     IngestConfig    `mapstructure:"ingest"`
	Retention  RetentionConfig `mapstructure:"retention"`
}

// StorageConfig defines the database backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// IngestConfig defines upstream polling behavior.
type IngestConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SourceURL      string        `mapstructure:"source_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetentionConfig defines the observation retention window and the cron
// schedule on which it is enforced. An empty schedule disables automatic
// cleanup; the cleanup endpoint and command remain available.
type RetentionConfig struct {
	Hours    int    `mapstructure:"hours"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $RADARD_CONFIG env → ~/.config/radard/config.yaml → /etc/radard/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.poll_interval", 5*time.Minute)
	v.SetDefault("ingest.request_timeout", 30*time.Second)
	v.SetDefault("retention.hours", 24)
	v.SetDefault("retention.schedule", "0 * * * *")

	// Env var support
	v.SetEnvPrefix("RADARD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("RADARD_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "radard"))
		}
		v.AddConfigPath("/etc/radard")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		// Warn if config file is world-readable.
		if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
			if info, err := os.Stat(cfgPath); err == nil {
				perm := info.Mode().Perm()
				if perm&0004 != 0 {
					slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
		dir := filepath.Dir(c.Storage.SQLite.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating storage directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)
	}

	if c.Ingest.Enabled {
		if c.Ingest.SourceURL == "" {
			return fmt.Errorf("ingest.source_url is required when ingest is enabled")
		}
		u, err := url.Parse(c.Ingest.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("ingest.source_url %q is not a valid http(s) URL", c.Ingest.SourceURL)
		}
		if c.Ingest.PollInterval <= 0 {
			return fmt.Errorf("ingest.poll_interval must be positive, got %s", c.Ingest.PollInterval)
		}
	}

	if c.Retention.Hours <= 0 {
		return fmt.Errorf("retention.hours must be positive, got %d", c.Retention.Hours)
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	default:
		return ""
	}
}
