package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/questionnaire-be/internal/api/handler"
	"github.com/cuongbtq/questionnaire-be/internal/api/router"
	"github.com/cuongbtq/questionnaire-be/internal/auth"
	"github.com/cuongbtq/questionnaire-be/internal/bulk"
	"github.com/cuongbtq/questionnaire-be/internal/config"
	"github.com/cuongbtq/questionnaire-be/internal/ratelimit"
	"github.com/cuongbtq/questionnaire-be/internal/submission"
	"github.com/cuongbtq/questionnaire-be/shared/gcp"
	"github.com/cuongbtq/questionnaire-be/shared/rabbitmq"
	"github.com/gin-gonic/gin"
)

// API is the fully wired HTTP surface and the resources behind it.
type API struct {
	Engine  *gin.Engine
	Stores  *Stores
	Limiter *ratelimit.Limiter
	Runner  *bulk.Runner
	rabbit  *rabbitmq.Client
	topic   *gcp.Topic
	inline  *bulk.InlineDispatcher
}

// BuildAPI opens the stores and builds the router for cfg.
func BuildAPI(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *API, err error) {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &API{Stores: stores}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Limiter, err = NewLimiter(cfg, stores, log)
	if err != nil {
		return nil, err
	}
	a.Runner = NewRunner(cfg, stores, log)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	var dispatcher bulk.Dispatcher
	switch cfg.Bulk.Dispatch {
	case config.DispatchQueue:
		a.rabbit, err = rabbitmq.NewClient(ctx, RabbitMQConfig(&cfg.RabbitMQ), log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		dispatcher = bulk.NewQueueDispatcher(a.rabbit, log)
	case config.DispatchPubSub:
		a.topic, err = gcp.NewTopic(ctx, gcp.PubSubConfig{
			ProjectID:       cfg.PubSub.ProjectID,
			TopicID:         cfg.PubSub.Topic,
			CredentialsFile: cfg.PubSub.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Pub/Sub: %w", err)
		}
		log.Info("Pub/Sub dispatch ready", slog.String("topic", cfg.PubSub.Topic))
		dispatcher = bulk.NewPubSubDispatcher(a.topic, log)
	case config.DispatchInline:
		a.inline = bulk.NewInlineDispatcher(a.Runner, log)
		dispatcher = a.inline
	default:
		return nil, fmt.Errorf("unknown bulk dispatch mode %q", cfg.Bulk.Dispatch)
	}

	deps := &handler.Dependencies{
		Logger: log,
		Bulk: bulk.NewService(&bulk.ServiceConfig{
			Jobs:        stores.Backend,
			Submissions: stores.Backend,
			Dispatcher:  dispatcher,
			Logger:      log,
		}),
		Submissions: submission.NewService(&submission.Config{
			Submissions:        stores.Backend,
			Templates:          stores.Backend,
			Logger:             log,
			SlowQueryThreshold: cfg.Query.SlowQueryThreshold,
		}),
	}

	a.Engine = router.SetupRouter(deps, router.Options{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Verifier:       verifier,
		Limiter:        a.Limiter,
	})
	return a, nil
}

// Close waits for inline jobs and releases the broker, topic and store connections.
func (a *API) Close() error {
	if a.inline != nil {
		a.inline.Wait()
	}
	var errs []error
	if a.rabbit != nil {
		errs = append(errs, a.rabbit.Close())
	}
	if a.topic != nil {
		errs = append(errs, a.topic.Close())
	}
	errs = append(errs, a.Stores.Close())
	return errors.Join(errs...)
}
