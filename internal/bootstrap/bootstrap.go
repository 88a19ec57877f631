// Package bootstrap turns configuration into the stores, clients and services
// shared by the service binaries and the cloud functions.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/bulk"
	"github.com/cuongbtq/questionnaire-be/internal/config"
	"github.com/cuongbtq/questionnaire-be/internal/ratelimit"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/cuongbtq/questionnaire-be/internal/store/firestoredb"
	"github.com/cuongbtq/questionnaire-be/internal/store/memstore"
	"github.com/cuongbtq/questionnaire-be/internal/store/postgres"
	"github.com/cuongbtq/questionnaire-be/internal/store/redisstore"
	"github.com/cuongbtq/questionnaire-be/shared/cache"
	"github.com/cuongbtq/questionnaire-be/shared/gcp"
	"github.com/cuongbtq/questionnaire-be/shared/logger"
	"github.com/cuongbtq/questionnaire-be/shared/postgresql"
	"github.com/cuongbtq/questionnaire-be/shared/rabbitmq"
)

// Stores holds the document store and the rate limit window store selected by
// configuration.
type Stores struct {
	Backend store.Backend
	Windows store.WindowStore
	Alerts  store.AlertSink
	closers []func() error
}

// OpenStores connects the configured backends. On error every connection
// already opened is closed.
func OpenStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Stores, err error) {
	s := &Stores{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	switch cfg.Store.Backend {
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, gcp.FirestoreConfig{
			ProjectID:       cfg.Store.Firestore.ProjectID,
			DatabaseID:      cfg.Store.Firestore.DatabaseID,
			CredentialsFile: cfg.Store.Firestore.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.Backend = firestoredb.New(client)
		log.Info("Firestore store ready", slog.String("project_id", cfg.Store.Firestore.ProjectID))

	case config.BackendPostgres:
		pg, err := postgresql.NewClient(ctx, PostgresConfig(&cfg.Store.Postgres), log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		pgStore := postgres.New(pg)
		if cfg.Store.Migrate {
			if err := pgStore.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
			}
			log.Info("Postgres schema migrated")
		}
		s.Backend = pgStore

	case config.BackendMemory:
		s.Backend = memstore.New()
		log.Warn("Using in-memory store, data is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	s.Windows, s.Alerts = s.Backend, s.Backend
	if cfg.RateLimits.Backend == config.BackendRedis {
		client, err := cache.Connect(ctx, cfg.Store.Redis.URL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		rs := redisstore.New(client, cfg.Store.Redis.WindowTTL)
		s.Windows, s.Alerts = rs, rs
		log.Info("Redis rate limit store ready")
	}

	return s, nil
}

// Close releases every connection in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewLimiter builds the rate limiter with the configured policies.
func NewLimiter(cfg *config.Config, s *Stores, log *slog.Logger) (*ratelimit.Limiter, error) {
	limits, err := cfg.RateLimitPolicies()
	if err != nil {
		return nil, err
	}
	return ratelimit.New(s.Windows, s.Alerts, limits, log), nil
}

// NewRunner builds the bulk job runner over the document store.
func NewRunner(cfg *config.Config, s *Stores, log *slog.Logger) *bulk.Runner {
	return bulk.NewRunner(&bulk.RunnerConfig{
		Jobs:            s.Backend,
		Submissions:     s.Backend,
		Templates:       s.Backend,
		Logger:          log,
		ChunksPerSecond: cfg.Bulk.ChunksPerSecond,
		Burst:           cfg.Bulk.Burst,
	})
}

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// PostgresConfig maps the database section onto the client config.
func PostgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RabbitMQConfig maps the rabbitmq section onto the client config.
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}
