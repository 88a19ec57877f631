package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// Dispatcher hands a persisted job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// InlineDispatcher runs jobs on a goroutine of the current process. The job
// outlives the request that submitted it.
type InlineDispatcher struct {
	runner *Runner
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewInlineDispatcher(runner *Runner, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{runner: runner, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.RunJob(runCtx, jobID); err != nil {
			d.logger.Error("Inline job run failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Publisher is the subset of the message broker client the queue dispatcher needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueDispatcher publishes job IDs for the worker service to consume.
type QueueDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewQueueDispatcher(publisher Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher, logger: logger}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	d.logger.Debug("Job published", slog.String("job_id", jobID))
	return nil
}

// TopicPublisher is the subset of the Pub/Sub topic client the Pub/Sub
// dispatcher needs.
type TopicPublisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// PubSubDispatcher publishes job IDs to a Pub/Sub topic whose push
// subscription triggers the RunBulkJob function.
type PubSubDispatcher struct {
	topic  TopicPublisher
	logger *slog.Logger
}

func NewPubSubDispatcher(topic TopicPublisher, logger *slog.Logger) *PubSubDispatcher {
	return &PubSubDispatcher{topic: topic, logger: logger}
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	messageID, err := d.topic.Publish(ctx, body, map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	d.logger.Debug("Job published",
		slog.String("job_id", jobID),
		slog.String("message_id", messageID),
	)
	return nil
}
