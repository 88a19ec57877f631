package functions

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cuongbtq/questionnaire-be/internal/bootstrap"
	"github.com/cuongbtq/questionnaire-be/internal/config"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App:   config.AppConfig{Name: "questionnaire-functions"},
		Store: config.StoreConfig{Backend: config.BackendMemory},
		Bulk:  config.BulkConfig{Dispatch: config.DispatchInline},
		Auth:  config.AuthConfig{JWTSecret: "secret"},
	}
	cfg.ApplyDefaults()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := bootstrap.BuildAPI(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })
	return NewHandlers(api, logger)
}

func pubsubEvent(t *testing.T, data []byte) cloudevents.Event {
	t.Helper()
	var env pubsubEnvelope
	env.Message.Data = data
	env.Message.MessageID = "msg-1"
	env.Subscription = "projects/p/subscriptions/bulk-jobs"

	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/bulk-jobs")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, env))
	return e
}

func TestServeHTTP(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "questionnaire-functions")
}

func TestCleanupRateLimits(t *testing.T) {
	h := newTestHandlers(t)

	e := cloudevents.NewEvent()
	e.SetID("tick")
	e.SetSource("//cloudscheduler.googleapis.com")
	e.SetType("google.cloud.scheduler.job.v1.executed")

	assert.NoError(t, h.CleanupRateLimits(context.Background(), e))
}

func TestRunBulkJob(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	require.NoError(t, h.api.Stores.Backend.CreateJob(ctx, &domain.Job{
		ID:        jobID,
		Type:      domain.JobArchiveSubmissions,
		Status:    domain.JobStatusPending,
		CreatedBy: "admin",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		TargetIDs: []string{"missing-1"},
		Options:   domain.JobOptions{BatchSize: domain.DefaultBatchSize},
		Progress:  domain.Progress{Total: 1},
	}))

	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	require.NoError(t, err)
	require.NoError(t, h.RunBulkJob(ctx, pubsubEvent(t, body)))

	job, err := h.api.Stores.Backend.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.Status.IsTerminal())
	assert.Equal(t, 1, job.Progress.Skipped)

	// A redelivered message for a finished job is dropped.
	assert.NoError(t, h.RunBulkJob(ctx, pubsubEvent(t, body)))
}

func TestRunBulkJob_DropsUnusableMessages(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "malformed body", data: []byte("not json")},
		{name: "not a uuid", data: []byte(`{"job_id":"job-1"}`)},
		{name: "unknown job", data: []byte(`{"job_id":"` + uuid.New().String() + `"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, h.RunBulkJob(context.Background(), pubsubEvent(t, tt.data)))
		})
	}
}
