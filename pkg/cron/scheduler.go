// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
)

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron         *cron.Cron
	repo         repository.ImportRepository
	stalledAfter time.Duration
	schedule     string
	logger       *slog.Logger
}

// NewScheduler creates a scheduler running the stalled-import sweep on the
// given cron schedule.
func NewScheduler(repo repository.ImportRepository, schedule string, stalledAfter time.Duration, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:         c,
		repo:         repo,
		stalledAfter: stalledAfter,
		schedule:     schedule,
		logger:       logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweepStalledImports)
	if err != nil {
		return fmt.Errorf("failed to schedule stalled import sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers the sweep (for testing/admin).
func (s *Scheduler) RunNow() {
	go s.sweepStalledImports()
}

// sweepStalledImports fails import jobs that have sat in RUNNING longer than
// the configured threshold. A crashed worker otherwise leaves its job RUNNING
// forever.
func (s *Scheduler) sweepStalledImports() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobs, err := s.repo.ListStalledJobs(ctx, s.stalledAfter)
	if err != nil {
		s.logger.Error("failed to list stalled import jobs", slog.Any("error", err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		err := s.repo.TransitionJob(ctx, job.ID, repository.JobRunning, repository.JobFailed)
		if err != nil {
			s.logger.Error("failed to fail stalled import job",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
			continue
		}

		event := &repository.Event{
			JobID:   job.ID,
			Type:    repository.EventError,
			Message: fmt.Sprintf("import marked failed after running for more than %s", s.stalledAfter),
		}
		if err := s.repo.AppendEvent(ctx, event); err != nil {
			s.logger.Error("failed to record stalled sweep event",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}

		s.logger.Warn("stalled import job failed by sweeper",
			slog.String("job_id", job.ID.String()))
	}
}
