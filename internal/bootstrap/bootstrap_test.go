package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/questionnaire-be/internal/auth"
	"github.com/cuongbtq/questionnaire-be/internal/bulk"
	"github.com/cuongbtq/questionnaire-be/internal/config"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store/memstore"
	"github.com/cuongbtq/questionnaire-be/internal/store/redisstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := &config.Config{
		App:   config.AppConfig{Name: "questionnaire-api"},
		Store: config.StoreConfig{Backend: config.BackendMemory},
		Bulk:  config.BulkConfig{Dispatch: config.DispatchInline},
		Auth:  config.AuthConfig{JWTSecret: "secret"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestOpenStores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		wantRedis   bool
		errContains string
	}{
		{
			name:   "memory backend",
			mutate: func(c *config.Config) {},
		},
		{
			name: "redis windows",
			mutate: func(c *config.Config) {
				c.RateLimits.Backend = config.BackendRedis
				c.Store.Redis.URL = "redis://" + mr.Addr()
				c.Store.Redis.WindowTTL = time.Hour
			},
			wantRedis: true,
		},
		{
			name:        "unknown backend",
			mutate:      func(c *config.Config) { c.Store.Backend = "mongo" },
			errContains: "unknown store backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)

			stores, err := OpenStores(context.Background(), cfg, discardLogger())
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			defer stores.Close()

			assert.IsType(t, &memstore.Store{}, stores.Backend)
			if tt.wantRedis {
				assert.IsType(t, &redisstore.Store{}, stores.Windows)
				assert.IsType(t, &redisstore.Store{}, stores.Alerts)
			} else {
				assert.Same(t, stores.Backend, stores.Windows)
			}
		})
	}
}

func TestNewLimiter_UsesConfiguredPolicies(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimits.Operations = map[string]config.OperationLimit{
		domain.OpCreateSubmission: {MaxRequests: 1, Window: time.Hour},
	}
	stores, err := OpenStores(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer stores.Close()

	limiter, err := NewLimiter(cfg, stores, discardLogger())
	require.NoError(t, err)

	id := domain.Identity{UID: "alice", Attribute: "10.0.0.1"}
	require.NoError(t, limiter.Allow(context.Background(), id, domain.OpCreateSubmission))
	assert.Error(t, limiter.Allow(context.Background(), id, domain.OpCreateSubmission))
}

func TestBuildAPI_Inline(t *testing.T) {
	gin.SetMode(gin.TestMode)

	api, err := BuildAPI(context.Background(), memoryConfig(), discardLogger())
	require.NoError(t, err)
	defer api.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	api.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "questionnaire-api")
}

func TestBuildAPI_PubSubDispatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	admin, err := pubsub.NewClient(ctx, "questionnaire-test")
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(ctx, "bulk-jobs")
	require.NoError(t, err)

	cfg := memoryConfig()
	cfg.Bulk.Dispatch = config.DispatchPubSub
	cfg.PubSub = config.PubSubConfig{ProjectID: "questionnaire-test", Topic: "bulk-jobs"}

	api, err := BuildAPI(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer api.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	require.NoError(t, err)
	token, err := verifier.Issue("admin-1", domain.RoleAdmin)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{"targetIds": []string{"missing-1"}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bulk/submissions/archive", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	api.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var submitted bulk.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &msg))
	assert.Equal(t, submitted.JobID, msg.JobID)

	// Nothing in this process runs the job; the RunBulkJob function does.
	job, err := api.Stores.Backend.GetJob(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:               "mq",
		Port:               5672,
		Exchange:           config.ExchangeConfig{Name: "bulk_jobs", Type: "direct", Durable: true},
		Queue:              config.QueueConfig{Name: "bulk_jobs_queue", Durable: true},
		RoutingKey:         "bulk.job",
		DeadLetterExchange: "bulk_jobs_dlx",
		Consumer:           config.ConsumerConfig{PrefetchCount: 4},
	}

	rc := RabbitMQConfig(cfg)

	assert.Equal(t, "bulk_jobs", rc.ExchangeName)
	assert.Equal(t, "bulk_jobs_queue", rc.QueueName)
	assert.Equal(t, "bulk_jobs_dlx", rc.DeadLetterExchange)
	assert.Equal(t, 4, rc.PrefetchCount)
	assert.True(t, rc.QueueDurable)
}
