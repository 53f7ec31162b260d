package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfathom/scanward/internal/db"
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanner connection configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Health/metrics endpoint configuration
	Health HealthConfig `yaml:"health" json:"health"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Enable daemon mode (fork to background)
	Daemonize bool `yaml:"daemonize" json:"daemonize"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Number of concurrent connection workers
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`

	// Cron expression for periodic report cleanup
	CleanupSchedule string `yaml:"cleanup_schedule" json:"cleanup_schedule"`

	// Reports older than this with no end time are purged by cleanup
	StaleReportAge time.Duration `yaml:"stale_report_age" json:"stale_report_age"`
}

// ScannerConfig holds settings for the scanner-facing listener
type ScannerConfig struct {
	// Listener network: "unix" or "tcp"
	Network string `yaml:"network" json:"network"`

	// Listener address (socket path for unix, host:port for tcp)
	Address string `yaml:"address" json:"address"`

	// Protocol version announced to connecting scanners ("1.0" or "2.0")
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	// Receive buffer capacity per connection in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// Socket read chunk size in bytes
	ReadSize int `yaml:"read_size" json:"read_size"`

	// Credentials for the legacy handshake
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// NVT cache resync mode at connect: "none", "rebuild" or "update"
	CacheMode string `yaml:"cache_mode" json:"cache_mode"`

	// Delay before retrying when the scanner reports it is still loading
	LoadingRetryDelay time.Duration `yaml:"loading_retry_delay" json:"loading_retry_delay"`

	// Read timeout per socket read (0 disables)
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// HealthConfig holds settings for the health/metrics HTTP endpoint
type HealthConfig struct {
	// Enable the endpoint
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Enable request logging
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Cache mode constants.
const (
	CacheModeNone    = "none"
	CacheModeRebuild = "rebuild"
	CacheModeUpdate  = "update"
)

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/scanward.pid",
			WorkDir:         "/var/lib/scanward",
			Daemonize:       false,
			ShutdownTimeout: 30 * time.Second,
			WorkerPoolSize:  8,
			CleanupSchedule: "0 3 * * *",
			StaleReportAge:  72 * time.Hour,
		},
		Database: db.DefaultConfig(),
		Scanner: ScannerConfig{
			Network:           "unix",
			Address:           "/var/run/scanward-scanner.sock",
			ProtocolVersion:   "2.0",
			BufferSize:        1 << 20,
			ReadSize:          16 * 1024,
			Username:          "",
			Password:          "",
			CacheMode:         CacheModeNone,
			LoadingRetryDelay: 10 * time.Second,
			ReadTimeout:       0,
		},
		Health: HealthConfig{
			Enabled:        true,
			ListenAddr:     "127.0.0.1",
			Port:           9391,
			RequestLogging: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write file
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database configuration
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate daemon configuration
	if c.Daemon.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}

	// Validate scanner configuration
	switch c.Scanner.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("invalid scanner network: %s", c.Scanner.Network)
	}
	if c.Scanner.Address == "" {
		return fmt.Errorf("scanner address is required")
	}
	switch c.Scanner.ProtocolVersion {
	case "1.0", "1.1", "1.2", "2.0":
	default:
		return fmt.Errorf("unsupported protocol version: %s", c.Scanner.ProtocolVersion)
	}
	if c.Scanner.BufferSize <= 0 {
		return fmt.Errorf("scanner buffer size must be positive")
	}
	if c.Scanner.ReadSize <= 0 {
		return fmt.Errorf("scanner read size must be positive")
	}
	if c.Scanner.ReadSize > c.Scanner.BufferSize {
		return fmt.Errorf("scanner read size must not exceed buffer size")
	}
	switch c.Scanner.CacheMode {
	case CacheModeNone, CacheModeRebuild, CacheModeUpdate:
	default:
		return fmt.Errorf("invalid cache mode: %s", c.Scanner.CacheMode)
	}

	// Validate health endpoint configuration
	if c.Health.Enabled {
		if c.Health.Port <= 0 || c.Health.Port > 65535 {
			return fmt.Errorf("health port must be between 1 and 65535")
		}
		if c.Health.ListenAddr == "" {
			return fmt.Errorf("health listen address is required when enabled")
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// IsDaemonMode returns true if running in daemon mode
func (c *Config) IsDaemonMode() bool {
	return c.Daemon.Daemonize
}

// GetHealthAddress returns the full health endpoint address
func (c *Config) GetHealthAddress() string {
	return fmt.Sprintf("%s:%d", c.Health.ListenAddr, c.Health.Port)
}

// IsLegacyProtocol returns true when the configured protocol is the 1.x era
func (c *Config) IsLegacyProtocol() bool {
	return len(c.Scanner.ProtocolVersion) > 0 && c.Scanner.ProtocolVersion[0] == '1'
}

// GetLogOutput returns the log output destination
func (c *Config) GetLogOutput() string {
	return c.Logging.Output
}
