// Package worker consumes bulk job messages from RabbitMQ and runs them on a
// bounded goroutine pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobRunner executes one bulk job to a terminal status.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// JobReader reads job progress for heartbeat logging.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// DeliverySource starts a consumer on the job queue.
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Source            DeliverySource
	Runner            JobRunner
	Jobs              JobReader
	WorkerID          string
	QueueName         string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// acknowledger settles one delivery; amqp.Delivery satisfies it.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type jobDelivery struct {
	domain.JobMessage
	ack acknowledger
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	source            DeliverySource
	runner            JobRunner
	jobs              JobReader
	workerID          string
	queueName         string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *jobDelivery
	stopChan          chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Worker{
		logger:            cfg.Logger,
		source:            cfg.Source,
		runner:            cfg.Runner,
		jobs:              cfg.Jobs,
		workerID:          workerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *jobDelivery),
		stopChan:          make(chan struct{}),
	}
}

// Start subscribes to the queue and spawns the pool. It blocks until ctx is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker dispatcher exited", slog.String("worker_id", w.workerID))
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
