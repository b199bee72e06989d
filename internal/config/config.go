package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Prober    ProberConfig    `yaml:"prober" json:"prober"`
	Backup    BackupConfig    `yaml:"backup" json:"backup"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// SSHConfig contains SSH security settings
type SSHConfig struct {
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
	// LegacyAlgorithms enables the older kex/cipher suites many switches
	// and OLTs still ship with.
	LegacyAlgorithms bool `yaml:"legacy_algorithms" json:"legacy_algorithms"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	BackupDir  string `yaml:"backup_dir" json:"backup_dir"`
	HistoryDir string `yaml:"history_dir" json:"history_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SchedulerConfig controls job polling and execution limits
type SchedulerConfig struct {
	PollInterval     string `yaml:"poll_interval" json:"poll_interval"`
	Workers          int    `yaml:"workers" json:"workers"`
	QueueSize        int    `yaml:"queue_size" json:"queue_size"`
	StepTimeout      string `yaml:"step_timeout" json:"step_timeout"`
	ExecutionTimeout string `yaml:"execution_timeout" json:"execution_timeout"`
	DrainTimeout     string `yaml:"drain_timeout" json:"drain_timeout"`
}

// SyncConfig controls automatic retries of failed secondary syncs
type SyncConfig struct {
	AutoRetry         bool   `yaml:"auto_retry" json:"auto_retry"`
	AutoRetryInterval string `yaml:"auto_retry_interval" json:"auto_retry_interval"`
	MaxAttempts       int    `yaml:"max_attempts" json:"max_attempts"`
}

// ProberConfig controls reachability probes
type ProberConfig struct {
	PingCount        int    `yaml:"ping_count" json:"ping_count"`
	PingTimeout      string `yaml:"ping_timeout" json:"ping_timeout"`
	Privileged       bool   `yaml:"privileged" json:"privileged"`
	HandshakeTimeout string `yaml:"handshake_timeout" json:"handshake_timeout"`
}

// BackupConfig contains artifact handling defaults
type BackupConfig struct {
	DefaultProviderID string `yaml:"default_provider_id" json:"default_provider_id"`
	RetentionCount    int    `yaml:"retention_count" json:"retention_count"`
	// ProfilesFile holds extra vendor profiles checked before the built-ins.
	ProfilesFile string `yaml:"profiles_file" json:"profiles_file"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:           "./data/netbackup.db",
			MaxConnections: 25,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
			SSH: SSHConfig{
				KnownHostsPath:   "./data/known_hosts",
				TrustOnFirstUse:  true,
				LegacyAlgorithms: true,
			},
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			BackupDir: "./data/backups",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Scheduler: SchedulerConfig{
			PollInterval:     "30s",
			Workers:          4,
			QueueSize:        64,
			StepTimeout:      "60s",
			ExecutionTimeout: "10m",
			DrainTimeout:     "2m",
		},
		Sync: SyncConfig{
			AutoRetry:         true,
			AutoRetryInterval: "15m",
			MaxAttempts:       5,
		},
		Prober: ProberConfig{
			PingCount:        3,
			PingTimeout:      "5s",
			HandshakeTimeout: "15s",
		},
		Backup: BackupConfig{
			RetentionCount: 30,
		},
	}
}

func (c *Config) applyEnv() {
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		c.Storage.BackupDir = backupDir
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		c.Security.SSH.KnownHostsPath = knownHostsPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if workers := os.Getenv("SCHEDULER_WORKERS"); workers != "" {
		var n int
		if _, err := fmt.Sscanf(workers, "%d", &n); err == nil && n > 0 {
			c.Scheduler.Workers = n
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}

	durations := map[string]string{
		"scheduler.poll_interval":     c.Scheduler.PollInterval,
		"scheduler.step_timeout":      c.Scheduler.StepTimeout,
		"scheduler.execution_timeout": c.Scheduler.ExecutionTimeout,
		"scheduler.drain_timeout":     c.Scheduler.DrainTimeout,
		"sync.auto_retry_interval":    c.Sync.AutoRetryInterval,
		"prober.ping_timeout":         c.Prober.PingTimeout,
		"prober.handshake_timeout":    c.Prober.HandshakeTimeout,
	}
	for name, value := range durations {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if step, exec := ParseDuration(c.Scheduler.StepTimeout, 0), ParseDuration(c.Scheduler.ExecutionTimeout, 0); step > 0 && exec > 0 && step > exec {
		return fmt.Errorf("scheduler.step_timeout must not exceed scheduler.execution_timeout")
	}

	return nil
}

// ParseDuration parses value, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(c.Storage.DataDir, "backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	if strings.TrimSpace(c.Storage.HistoryDir) == "" {
		c.Storage.HistoryDir = filepath.Join(c.Storage.DataDir, "logs", "history")
	}
	c.Storage.HistoryDir = resolvePath(c.Storage.HistoryDir)

	if strings.TrimSpace(c.Security.SSH.KnownHostsPath) == "" {
		c.Security.SSH.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	c.Security.SSH.KnownHostsPath = resolvePath(c.Security.SSH.KnownHostsPath)

	c.Backup.ProfilesFile = resolvePath(c.Backup.ProfilesFile)
}
