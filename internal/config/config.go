// Package config provides configuration loading and management for the sync
// server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variables read by the server.
const EnvPrefix = "DEVICESYNC"

const (
	// StorageTypeMemory keeps all state in process memory. Intended for
	// tests and local development.
	StorageTypeMemory = "memory"

	// StorageTypePostgres persists state in PostgreSQL.
	StorageTypePostgres = "postgres"
)

// Defaults applied when the YAML omits a value.
const (
	DefaultServerAddress  = ":3030"
	DefaultPollInterval   = 1 * time.Second
	DefaultIdleInterval   = 5 * time.Second
	DefaultMaxAttempts    = 3
	DefaultQueueThreshold = 500
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server,omitempty"`
	Storage   StorageConfig    `yaml:"storage,omitempty"`
	Database  *DatabaseConfig  `yaml:"database,omitempty"`
	Queue     QueueConfig      `yaml:"queue,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the HTTP listener settings
type ServerConfig struct {
	// Address is the listen address in host:port form
	// Defaults to ":3030" if not specified
	Address string `yaml:"address,omitempty"`
}

// StorageConfig selects the storage backend
type StorageConfig struct {
	// Type is the storage backend: "memory" or "postgres"
	// Defaults to "memory" if not specified
	Type string `yaml:"type,omitempty"`
}

// QueueConfig defines queue processing settings
type QueueConfig struct {
	// PollInterval is the pause between processed queue items (e.g. "1s")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// IdleInterval is the pause when the queue is empty (e.g. "5s")
	IdleInterval string `yaml:"idleInterval,omitempty"`

	// MaxAttempts bounds processing cycles per queue item
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// QueueThreshold is the batch size above which ingestion defers to the
	// queue instead of storing records on the request path
	QueueThreshold int `yaml:"queueThreshold,omitempty"`

	// AutoStart controls whether the dispatcher starts with the server
	// Defaults to true if not specified
	AutoStart *bool `yaml:"autoStart,omitempty"`
}

// TelemetryConfig defines metrics settings
type TelemetryConfig struct {
	// MetricsEnabled controls whether Prometheus metrics are collected and
	// exposed on /metrics
	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from DEVICESYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	// Priority 1: Read from file if specified
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		// Trim whitespace (including newlines) from file content
		password := strings.TrimSpace(string(data))
		return password, nil
	}

	// Priority 2: Check environment variable
	if envPassword := os.Getenv("DEVICESYNC_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or DEVICESYNC_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	// URL-escape the password to handle special characters
	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file. Without a
// config path option it returns the defaults.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		// Read the entire file into memory
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse YAML content
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAddress returns the listen address, using the default if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// GetType returns the storage backend, using "memory" if not specified
func (s *StorageConfig) GetType() string {
	if s.Type == "" {
		return StorageTypeMemory
	}
	return s.Type
}

// GetPollInterval returns the parsed poll interval, using the default if not
// specified
func (q *QueueConfig) GetPollInterval() time.Duration {
	if q.PollInterval == "" {
		return DefaultPollInterval
	}
	d, err := time.ParseDuration(q.PollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

// GetIdleInterval returns the parsed idle interval, using the default if not
// specified
func (q *QueueConfig) GetIdleInterval() time.Duration {
	if q.IdleInterval == "" {
		return DefaultIdleInterval
	}
	d, err := time.ParseDuration(q.IdleInterval)
	if err != nil {
		return DefaultIdleInterval
	}
	return d
}

// GetMaxAttempts returns the attempt bound, using the default if not
// specified
func (q *QueueConfig) GetMaxAttempts() int {
	if q.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return q.MaxAttempts
}

// GetQueueThreshold returns the inline-versus-queue boundary, using the
// default if not specified
func (q *QueueConfig) GetQueueThreshold() int {
	if q.QueueThreshold <= 0 {
		return DefaultQueueThreshold
	}
	return q.QueueThreshold
}

// GetAutoStart reports whether the dispatcher starts with the server,
// defaulting to true
func (q *QueueConfig) GetAutoStart() bool {
	if q.AutoStart == nil {
		return true
	}
	return *q.AutoStart
}

// MetricsEnabled reports whether metrics collection is enabled
func (c *Config) MetricsEnabled() bool {
	return c.Telemetry != nil && c.Telemetry.MetricsEnabled
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch c.Storage.GetType() {
	case StorageTypeMemory:
	case StorageTypePostgres:
		if c.Database == nil {
			return fmt.Errorf("storage type %q requires a database section", StorageTypePostgres)
		}
		if err := c.Database.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.type must be %q or %q, got %q",
			StorageTypeMemory, StorageTypePostgres, c.Storage.Type)
	}

	return c.Queue.validate()
}

// validate checks the queue settings
func (q *QueueConfig) validate() error {
	if q.PollInterval != "" {
		if _, err := time.ParseDuration(q.PollInterval); err != nil {
			return fmt.Errorf("queue.pollInterval must be a valid duration (e.g., '1s', '500ms'): %w", err)
		}
	}
	if q.IdleInterval != "" {
		if _, err := time.ParseDuration(q.IdleInterval); err != nil {
			return fmt.Errorf("queue.idleInterval must be a valid duration (e.g., '5s', '1m'): %w", err)
		}
	}
	if q.MaxAttempts < 0 {
		return fmt.Errorf("queue.maxAttempts cannot be negative")
	}
	if q.QueueThreshold < 0 {
		return fmt.Errorf("queue.queueThreshold cannot be negative")
	}
	return nil
}

// validate checks the database settings
func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}
