package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendStore     = "store"
)

// Bulk job dispatch modes.
const (
	DispatchQueue  = "queue"
	DispatchInline = "inline"
	DispatchPubSub = "pubsub"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	App        AppConfig       `yaml:"app"`
	Logging    LoggingConfig   `yaml:"logging"`
	Store      StoreConfig     `yaml:"store"`
	RabbitMQ   RabbitMQConfig  `yaml:"rabbitmq"`
	PubSub     PubSubConfig    `yaml:"pubsub"`
	Worker     WorkerConfig    `yaml:"worker"`
	Bulk       BulkConfig      `yaml:"bulk"`
	Query      QueryConfig     `yaml:"query"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Auth       AuthConfig      `yaml:"auth"`
	Cleanup    CleanupConfig   `yaml:"cleanup"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins feeds the CORS middleware; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects the document store and holds each backend's settings.
type StoreConfig struct {
	Backend   string          `yaml:"backend"`
	Migrate   bool            `yaml:"migrate"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Postgres  DatabaseConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatabaseID      string `yaml:"database_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DatabaseConfig holds PostgreSQL connection configuration
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

type RedisConfig struct {
	URL       string        `yaml:"url"`
	WindowTTL time.Duration `yaml:"window_ttl"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// PubSubConfig names the topic bulk jobs are published to when dispatch is
// pubsub. ProjectID falls back to the Firestore project.
type PubSubConfig struct {
	ProjectID       string `yaml:"project_id"`
	Topic           string `yaml:"topic"`
	CredentialsFile string `yaml:"credentials_file"`
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

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsPort       int           `yaml:"metrics_port"`
}

// BulkConfig controls how bulk jobs are started and paced.
type BulkConfig struct {
	Dispatch        string  `yaml:"dispatch"`
	ChunksPerSecond float64 `yaml:"chunks_per_second"`
	Burst           int     `yaml:"burst"`
}

type QueryConfig struct {
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// RateLimitConfig selects where windows live and overrides per-operation limits.
type RateLimitConfig struct {
	Backend    string                    `yaml:"backend"`
	Operations map[string]OperationLimit `yaml:"operations"`
}

type OperationLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Scope       string        `yaml:"scope"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// CleanupConfig schedules deletion of stale rate limit windows.
type CleanupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFirestore
	}
	if c.Store.Postgres.SSLMode == "" {
		c.Store.Postgres.SSLMode = "disable"
	}
	if c.RateLimits.Backend == "" {
		c.RateLimits.Backend = BackendStore
	}
	if c.Bulk.Dispatch == "" {
		c.Bulk.Dispatch = DispatchQueue
	}
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = c.Store.Firestore.ProjectID
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Consumer.Tag == "" {
		c.RabbitMQ.Consumer.Tag = "bulk-worker"
	}
	if c.Query.SlowQueryThreshold == 0 {
		c.Query.SlowQueryThreshold = 500 * time.Millisecond
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@every 1h"
	}
}

// RateLimitPolicies merges the configured overrides into the default limits.
func (c *Config) RateLimitPolicies() (map[string]domain.RateLimit, error) {
	limits := domain.DefaultRateLimits()
	for op, o := range c.RateLimits.Operations {
		limit := limits[op]
		if o.MaxRequests != 0 {
			limit.MaxRequests = o.MaxRequests
		}
		if o.Window != 0 {
			limit.Window = o.Window
		}
		if o.Scope != "" {
			limit.Scope = domain.RateLimitScope(o.Scope)
		}
		if limit.Scope == "" {
			limit.Scope = domain.ScopeUser
		}
		if limit.MaxRequests <= 0 || limit.Window <= 0 {
			return nil, fmt.Errorf("rate limit %s: max_requests and window must be positive", op)
		}
		if !limit.Scope.IsValid() {
			return nil, fmt.Errorf("rate limit %s: unknown scope %q", op, limit.Scope)
		}
		limits[op] = limit
	}
	return limits, nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore project_id is required")
		}
	case BackendPostgres:
		if c.Store.Postgres.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if err := validatePort("database", c.Store.Postgres.Port); err != nil {
			return err
		}
		if c.Store.Postgres.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.RateLimits.Backend {
	case BackendStore:
	case BackendRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("redis url is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimits.Backend)
	}
	_, err := c.RateLimitPolicies()
	return err
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs.
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Bulk.ChunksPerSecond < 0 {
		return fmt.Errorf("bulk chunks_per_second must not be negative")
	}

	switch c.Bulk.Dispatch {
	case DispatchQueue:
		return c.validateRabbitMQ()
	case DispatchInline:
		return nil
	case DispatchPubSub:
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub project_id is required")
		}
		if c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub topic is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown bulk dispatch mode %q", c.Bulk.Dispatch)
	}
}

// ValidateWorkerConfig checks the settings the worker service needs.
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.MetricsPort != 0 {
		if err := validatePort("worker metrics", c.Worker.MetricsPort); err != nil {
			return err
		}
	}

	if c.Cleanup.Enabled {
		if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", c.Cleanup.Schedule, err)
		}
	}

	return nil
}
