package cron

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
)

// stubRepo overrides only what the sweeper touches.
type stubRepo struct {
	repository.ImportRepository

	stalled     []*repository.Job
	transitions []uuid.UUID
	events      []*repository.Event
}

func (s *stubRepo) ListStalledJobs(_ context.Context, _ time.Duration) ([]*repository.Job, error) {
	return s.stalled, nil
}

func (s *stubRepo) TransitionJob(_ context.Context, jobID uuid.UUID, from, to repository.JobStatus) error {
	if !from.CanTransition(to) {
		return repository.ErrInvalidTransition
	}
	s.transitions = append(s.transitions, jobID)
	return nil
}

func (s *stubRepo) AppendEvent(_ context.Context, event *repository.Event) error {
	s.events = append(s.events, event)
	return nil
}

func TestSweepStalledImports(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stalledJob := &repository.Job{ID: uuid.New(), Status: repository.JobRunning}
	repo := &stubRepo{stalled: []*repository.Job{stalledJob}}

	s := NewScheduler(repo, "*/10 * * * *", 2*time.Hour, logger)
	s.sweepStalledImports()

	require.Len(t, repo.transitions, 1)
	assert.Equal(t, stalledJob.ID, repo.transitions[0])

	require.Len(t, repo.events, 1)
	assert.Equal(t, repository.EventError, repo.events[0].Type)
	assert.Contains(t, repo.events[0].Message, "2h0m0s")
}

func TestSweepStalledImports_NothingStalled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &stubRepo{}

	s := NewScheduler(repo, "*/10 * * * *", time.Hour, logger)
	s.sweepStalledImports()

	assert.Empty(t, repo.transitions)
	assert.Empty(t, repo.events)
}

func TestSchedulerStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(&stubRepo{}, "*/10 * * * *", time.Hour, logger)

	require.NoError(t, s.Start())
	<-s.Stop().Done()
}

func TestSchedulerStart_BadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(&stubRepo{}, "not a schedule", time.Hour, logger)

	assert.Error(t, s.Start())
}
