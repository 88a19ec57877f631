// Package functions adapts the API, the bulk runner and rate limit cleanup to
// Cloud Functions entry points.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cuongbtq/questionnaire-be/internal/bootstrap"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/worker"
)

// pubsubEnvelope is the data of a google.cloud.pubsub.topic.v1.messagePublished event.
type pubsubEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type Handlers struct {
	api    *bootstrap.API
	logger *slog.Logger
}

func NewHandlers(api *bootstrap.API, logger *slog.Logger) *Handlers {
	return &Handlers{api: api, logger: logger}
}

// ServeHTTP serves the submission and bulk job API.
func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.api.Engine.ServeHTTP(w, r)
}

// CleanupRateLimits deletes stale rate limit windows. It is triggered by a
// Cloud Scheduler event.
func (h *Handlers) CleanupRateLimits(ctx context.Context, e cloudevents.Event) error {
	deleted, err := h.api.Limiter.Cleanup(ctx)
	if err != nil {
		h.logger.Error("Rate limit cleanup failed",
			slog.String("event_id", e.ID()),
			slog.Any("error", err),
		)
		return err
	}
	h.logger.Info("Rate limit cleanup finished",
		slog.String("event_id", e.ID()),
		slog.Int("deleted", deleted),
	)
	return nil
}

// RunBulkJob runs the job named by a Pub/Sub message. Messages that can never
// succeed are dropped so Pub/Sub does not redeliver them; transient failures
// are returned for retry.
func (h *Handlers) RunBulkJob(ctx context.Context, e cloudevents.Event) error {
	var env pubsubEnvelope
	if err := json.Unmarshal(e.Data(), &env); err != nil {
		h.logger.Error("Dropping undecodable event",
			slog.String("event_id", e.ID()),
			slog.Any("error", err),
		)
		return nil
	}

	msg, err := worker.ParseJobMessage(env.Message.Data)
	if err != nil {
		h.logger.Error("Dropping malformed job message",
			slog.String("message_id", env.Message.MessageID),
			slog.Any("error", err),
		)
		return nil
	}

	err = h.api.Runner.RunJob(ctx, msg.JobID)
	var retryable *domain.RetryableError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &retryable):
		return fmt.Errorf("job %s: %w", msg.JobID, err)
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrJobAlreadyClaimed):
		h.logger.Warn("Skipping job message",
			slog.String("job_id", msg.JobID),
			slog.String("reason", err.Error()),
		)
		return nil
	default:
		h.logger.Error("Bulk job failed",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		return nil
	}
}
