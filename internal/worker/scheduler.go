package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler runs a full sync periodically.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       *SyncJob
	interval  time.Duration
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler that runs job every interval. The first
// run starts immediately.
func NewScheduler(job *SyncJob, interval time.Duration, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		job:       job,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sync job and starts the underlying scheduler. Runs use
// ctx, so cancelling it aborts an in-flight run. A non-positive interval
// disables scheduling.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info().Msg("sync interval not set; scheduler disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		s.job.Run(ctx, TargetAll, nil)
	})
	if err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}

	s.logger.Info().Dur("interval", s.interval).Msg("starting sync scheduler")
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
