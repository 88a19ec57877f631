package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cuongbtq/questionnaire-be/internal/bootstrap"
	"github.com/cuongbtq/questionnaire-be/internal/config"
	fn "github.com/cuongbtq/questionnaire-be/internal/functions"
	"github.com/cuongbtq/questionnaire-be/shared/logger"
)

var (
	handlers *fn.Handlers
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(logger.NewJSON(os.Stdout, os.Getenv("LOG_LEVEL")).Logger)

	functions.HTTP("SubmissionsAPI", serveHTTP)
	functions.CloudEvent("RunBulkJob", runBulkJob)
	functions.CloudEvent("CleanupRateLimits", cleanupRateLimits)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		log.Fatalf("funcframework.Start: %v", err)
	}
}

// load builds the shared handlers on first use.
func load() error {
	once.Do(func() {
		path := os.Getenv("FUNCTIONS_CONFIG_PATH")
		if path == "" {
			path = "configs/api-service/config.yaml"
		}
		cfg, err := config.Load(path)
		if err != nil {
			initErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		if err := cfg.ValidateAPIConfig(); err != nil {
			initErr = fmt.Errorf("invalid config: %w", err)
			return
		}
		api, err := bootstrap.BuildAPI(context.Background(), cfg, slog.Default())
		if err != nil {
			initErr = err
			return
		}
		handlers = fn.NewHandlers(api, slog.Default())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

func serveHTTP(w http.ResponseWriter, r *http.Request) {
	if err := load(); err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handlers.ServeHTTP(w, r)
}

func runBulkJob(ctx context.Context, e cloudevents.Event) error {
	if err := load(); err != nil {
		return err
	}
	return handlers.RunBulkJob(ctx, e)
}

func cleanupRateLimits(ctx context.Context, e cloudevents.Event) error {
	if err := load(); err != nil {
		return err
	}
	return handlers.CleanupRateLimits(ctx, e)
}
