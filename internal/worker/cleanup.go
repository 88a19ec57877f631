package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const cleanupTimeout = 10 * time.Minute

// Cleaner deletes stale rate limit windows.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// CleanupScheduler runs rate limit cleanup on a cron schedule.
type CleanupScheduler struct {
	cleaner Cleaner
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewCleanupScheduler(cleaner Cleaner, logger *slog.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		cleaner: cleaner,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
	}
}

// Start schedules cleanup with a standard cron expression or descriptor.
func (s *CleanupScheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runCleanup); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Rate limit cleanup scheduler started", slog.String("schedule", schedule))
	return nil
}

// Stop stops the scheduler and waits for a running cleanup to return.
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Rate limit cleanup scheduler stopped")
}

// RunNow runs one cleanup synchronously.
func (s *CleanupScheduler) RunNow(ctx context.Context) (int, error) {
	return s.cleaner.Cleanup(ctx)
}

func (s *CleanupScheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := s.cleaner.Cleanup(ctx); err != nil {
		s.logger.Error("Scheduled rate limit cleanup failed", slog.String("error", err.Error()))
	}
}
