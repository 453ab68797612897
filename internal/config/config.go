package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Sync    SyncConfig     `yaml:"sync"`
	Mirrors MirrorsConfig  `yaml:"mirrors,omitempty"`
	Archive *ArchiveConfig `yaml:"archive,omitempty"`
	Server  ServerConfig   `yaml:"server"`
	Watch   WatchConfig    `yaml:"watch"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Health  *HealthConfig  `yaml:"health,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// SyncConfig defines where logs are read from and where events go
type SyncConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	LogDir         string        `yaml:"log_dir"`
	FilePrefix     string        `yaml:"file_prefix"`
	CheckpointPath string        `yaml:"checkpoint_path"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty"`
	// DeadLetterPath enables the dead letter file when set
	DeadLetterPath string `yaml:"dead_letter_path,omitempty"`
}

// MirrorsConfig holds optional secondary destinations. A mirror that fails
// BreakerThreshold times in a row is skipped for BreakerCooldown.
type MirrorsConfig struct {
	Kafka            *KafkaConfig         `yaml:"kafka,omitempty"`
	Elasticsearch    *ElasticsearchConfig `yaml:"elasticsearch,omitempty"`
	BreakerThreshold int                  `yaml:"breaker_threshold,omitempty"`
	BreakerCooldown  time.Duration        `yaml:"breaker_cooldown,omitempty"`
}

// KafkaConfig holds Kafka-specific configuration
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	RequiredAcks     int16    `yaml:"required_acks,omitempty"`
	CompressionCodec string   `yaml:"compression_codec,omitempty"`
	ClientID         string   `yaml:"client_id,omitempty"`
}

// ElasticsearchConfig holds Elasticsearch-specific configuration
type ElasticsearchConfig struct {
	Addresses     []string `yaml:"addresses"`
	Index         string   `yaml:"index"`
	IndexRotation string   `yaml:"index_rotation,omitempty"`
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	CloudID       string   `yaml:"cloud_id,omitempty"`
	APIKey        string   `yaml:"api_key,omitempty"`
}

// ArchiveConfig holds run archive configuration
type ArchiveConfig struct {
	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix,omitempty"`
	StorageClass string `yaml:"storage_class,omitempty"`
	Compression  string `yaml:"compression,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
	Attempts     int    `yaml:"attempts,omitempty"`
}

// ServerConfig holds the logging API configuration
type ServerConfig struct {
	Address      string        `yaml:"address"`
	DatabaseURL  string        `yaml:"database_url,omitempty"`
	RateLimit    int           `yaml:"rate_limit,omitempty"` // requests per second per client, 0 disables
	MaxBodySize  int64         `yaml:"max_body_size,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// WatchConfig holds watch mode configuration
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultEndpoint       = "https://pixan-logs.vercel.app/api/logs"
	DefaultLogDir         = "/tmp/openclaw"
	DefaultFilePrefix     = "openclaw"
	DefaultCheckpointPath = "/tmp/pixan-log-sync-state.json"
	DefaultTimeout        = 10 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultServerAddress  = ":3000"
	DefaultMaxBodySize    = 1 << 20
	DefaultWatchInterval  = time.Minute
	DefaultWatchDebounce  = 500 * time.Millisecond
)

// Environment variables that override file values
const (
	EnvEndpoint    = "PIXAN_LOGS_API"
	EnvDatabaseURL = "DATABASE_URL"
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path when it names an existing file. An empty path or
// a missing file yields DefaultConfig with environment overrides applied;
// any other failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// applyEnv lets the environment win over the file for the two settings the
// deployment scripts export.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		c.Sync.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); v != "" {
		c.Server.DatabaseURL = v
	}
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Sync.Endpoint == "" {
		c.Sync.Endpoint = DefaultEndpoint
	}
	if c.Sync.LogDir == "" {
		c.Sync.LogDir = DefaultLogDir
	}
	if c.Sync.FilePrefix == "" {
		c.Sync.FilePrefix = DefaultFilePrefix
	}
	if c.Sync.CheckpointPath == "" {
		c.Sync.CheckpointPath = DefaultCheckpointPath
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = DefaultTimeout
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = DefaultMaxBodySize
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}

	if c.Watch.Interval == 0 {
		c.Watch.Interval = DefaultWatchInterval
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultWatchDebounce
	}

	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health != nil {
		if c.Health.LivenessPath == "" {
			c.Health.LivenessPath = "/health/live"
		}
		if c.Health.ReadinessPath == "" {
			c.Health.ReadinessPath = "/health/ready"
		}
	}
	if c.Mirrors.BreakerThreshold == 0 {
		c.Mirrors.BreakerThreshold = 5
	}
	if c.Mirrors.BreakerCooldown == 0 {
		c.Mirrors.BreakerCooldown = 30 * time.Second
	}
	if c.Mirrors.Elasticsearch != nil && c.Mirrors.Elasticsearch.Index == "" {
		c.Mirrors.Elasticsearch.Index = "openclaw-events"
	}
	if c.Archive != nil && c.Archive.S3 != nil && c.Archive.S3.Compression == "" {
		c.Archive.S3.Compression = "snappy"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	u, err := url.Parse(c.Sync.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("sync endpoint must be an http(s) URL: %q", c.Sync.Endpoint)
	}
	if strings.ContainsRune(c.Sync.FilePrefix, os.PathSeparator) {
		return fmt.Errorf("sync file_prefix must not contain a path separator: %q", c.Sync.FilePrefix)
	}
	if c.Sync.Timeout < 0 {
		return fmt.Errorf("sync timeout must not be negative")
	}

	if k := c.Mirrors.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("kafka mirror has no brokers configured")
		}
		if k.Topic == "" {
			return fmt.Errorf("kafka mirror has no topic configured")
		}
	}
	if es := c.Mirrors.Elasticsearch; es != nil {
		if len(es.Addresses) == 0 && es.CloudID == "" {
			return fmt.Errorf("elasticsearch mirror needs addresses or cloud_id")
		}
	}
	if c.Mirrors.BreakerThreshold < 0 || c.Mirrors.BreakerCooldown < 0 {
		return fmt.Errorf("mirror breaker settings must not be negative")
	}
	if a := c.Archive; a != nil && a.S3 != nil {
		if a.S3.Bucket == "" {
			return fmt.Errorf("s3 archive has no bucket configured")
		}
		if a.S3.Attempts < 0 {
			return fmt.Errorf("s3 archive attempts must not be negative")
		}
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit must not be negative")
	}
	if c.Watch.Interval < 0 || c.Watch.Debounce < 0 {
		return fmt.Errorf("watch interval and debounce must not be negative")
	}
	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be within [0, 1]")
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}
