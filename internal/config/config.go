package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Storage  StorageConfig  `yaml:"storage"`
	Media    MediaConfig    `yaml:"media"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimitRPS caps submissions per second per client IP. Zero
	// disables the limit.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration. An empty host
// selects the in-memory store (degraded single-process mode).
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the alias cache connection configuration. An empty host
// selects the in-memory alias cache.
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	AliasTTL time.Duration `yaml:"alias_ttl"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// An empty host disables event publishing.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// StorageConfig holds blob store configuration
type StorageConfig struct {
	// Root is the directory artifacts are written under.
	Root string `yaml:"root"`
}

// MediaConfig holds the external tool configuration for the pipeline stages
type MediaConfig struct {
	YtdlpBinary    string        `yaml:"ytdlp_binary"`
	FFmpegBinary   string        `yaml:"ffmpeg_binary"`
	FFprobeBinary  string        `yaml:"ffprobe_binary"`
	WhisperBinary  string        `yaml:"whisper_binary"`
	WhisperModel   string        `yaml:"whisper_model"`
	Language       string        `yaml:"language"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	AdapterEnabled bool          `yaml:"adapter_enabled"`
	MinAudioBytes  int64         `yaml:"min_audio_bytes"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	LeaseDuration         time.Duration `yaml:"lease_duration"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	FetchConcurrency      int           `yaml:"fetch_concurrency"`
	TranscribeConcurrency int           `yaml:"transcribe_concurrency"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	LeaseRepairInterval   time.Duration `yaml:"lease_repair_interval"`
	OrphanSweepInterval   time.Duration `yaml:"orphan_sweep_interval"`
	OrphanThreshold       time.Duration `yaml:"orphan_threshold"`
	PurgeInterval         time.Duration `yaml:"purge_interval"`
	FailedRetention       time.Duration `yaml:"failed_retention"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server rate_limit_rps must not be negative")
	}

	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server rate_limit_burst must be greater than 0 when rate limiting is enabled")
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Database.Host != "" && c.Storage.Root == "" {
		return fmt.Errorf("storage root is required when a database is configured")
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.LeaseDuration <= 0 {
		return fmt.Errorf("worker lease_duration must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.FetchConcurrency <= 0 {
		return fmt.Errorf("worker fetch_concurrency must be greater than 0")
	}

	if c.Worker.TranscribeConcurrency <= 0 {
		return fmt.Errorf("worker transcribe_concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.OrphanSweepInterval > 0 && c.Worker.OrphanThreshold <= 0 {
		return fmt.Errorf("worker orphan_threshold must be greater than 0 when the orphan sweep is enabled")
	}

	if c.Worker.PurgeInterval > 0 && c.Worker.FailedRetention <= 0 {
		return fmt.Errorf("worker failed_retention must be greater than 0 when the failed-job purge is enabled")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Media.YtdlpBinary == "" {
		return fmt.Errorf("media ytdlp_binary is required")
	}

	if c.Media.FFmpegBinary == "" {
		return fmt.Errorf("media ffmpeg_binary is required")
	}

	if c.Media.FFprobeBinary == "" {
		return fmt.Errorf("media ffprobe_binary is required")
	}

	if c.Media.WhisperBinary == "" {
		return fmt.Errorf("media whisper_binary is required")
	}

	if c.Media.WhisperModel == "" {
		return fmt.Errorf("media whisper_model is required")
	}

	if c.Media.MaxDuration <= 0 {
		return fmt.Errorf("media max_duration must be greater than 0")
	}

	return c.validateBackends()
}

// validateBackends checks connection settings shared by both services.
// Hosts are optional: an empty host selects the in-memory fallback for that
// backend.
func (c *Config) validateBackends() error {
	if c.Database.Host != "" {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Redis.Host != "" {
		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}
	}

	if c.RabbitMQ.Host != "" {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}
