package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/envelopefin/envelope-api/internal/domain/envelope"
	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
	"github.com/envelopefin/envelope-api/internal/domain/import/normalizer"
	"github.com/envelopefin/envelope-api/internal/domain/transaction"
	"github.com/envelopefin/envelope-api/pkg/mailer"
	"github.com/envelopefin/envelope-api/pkg/money"
)

// processJob runs the per-row loop over the job's PENDING records. The same
// loop serves the initial run (recordIDs nil, job finishes COMPLETED or
// FAILED) and reprocessing (recordIDs set, job status untouched, aggregates
// recomputed by tally).
func (s *Service) processJob(ctx context.Context, jobID, userID uuid.UUID, recordIDs []uuid.UUID, initial bool) error {
	spanName := "import.process_job"
	if !initial {
		spanName = "import.reprocess"
	}
	ctx, span := s.tracer.Start(ctx, spanName)
	span.SetAttributes(attribute.String("job.id", jobID.String()))
	defer span.End()

	s.metrics.JobsInFlight.Inc()
	defer s.metrics.JobsInFlight.Dec()
	started := time.Now()

	job, err := s.repo.GetJob(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if job.ColumnMapping == nil {
		return s.failJob(ctx, job, initial, errors.New("column mapping missing"))
	}

	records, err := s.repo.ListRecordsForProcessing(ctx, jobID, recordIDs)
	if err != nil {
		return s.failJob(ctx, job, initial, err)
	}

	var imported, importedSinceLog, processed int
	var importedMinor int64

	for _, rec := range records {
		claimed, err := s.repo.ClaimRecord(ctx, rec.ID)
		if err != nil {
			return s.failJob(ctx, job, initial, err)
		}
		if !claimed {
			continue
		}
		rec.Status = repository.RecordProcessing

		if fatal := s.processRow(ctx, job, rec); fatal != nil {
			return s.failJob(ctx, job, initial, fatal)
		}

		if err := s.repo.FinishRecord(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist record outcome",
				slog.String("record_id", rec.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		processed++
		switch rec.Status {
		case repository.RecordImported:
			imported++
			importedSinceLog++
			if rec.AmountMinor != nil {
				importedMinor += *rec.AmountMinor
			}
			s.metrics.RowsImported.Inc()
		case repository.RecordError:
			s.metrics.RowsErrored.Inc()
		case repository.RecordSkipped:
			s.metrics.RowsSkipped.Inc()
		}

		if processed%progressInterval == 0 {
			s.persistProgress(ctx, jobID)
			s.appendEvent(ctx, jobID, repository.EventProgress,
				fmt.Sprintf("processed %d rows", processed), nil)
		}
		if importedSinceLog == logEveryImports {
			s.appendEvent(ctx, jobID, repository.EventLog,
				fmt.Sprintf("%d transactions imported so far", imported), nil)
			importedSinceLog = 0
		}
	}

	tally := s.persistProgress(ctx, jobID)

	if initial {
		if err := s.repo.TransitionJob(ctx, jobID, repository.JobRunning, repository.JobCompleted); err != nil {
			return err
		}
		s.metrics.JobDuration.Observe(time.Since(started).Seconds())
	}

	summary := fmt.Sprintf("import finished: %d imported (%s), %d errors, %d skipped",
		tally[repository.RecordImported], money.FormatMinor(importedMinor),
		tally[repository.RecordError], tally[repository.RecordSkipped])
	if !initial {
		summary = fmt.Sprintf("reprocessing finished: %d imported, %d errors, %d skipped",
			tally[repository.RecordImported], tally[repository.RecordError], tally[repository.RecordSkipped])
	}
	s.appendEvent(ctx, jobID, repository.EventLog, summary, map[string]any{
		"imported": tally[repository.RecordImported],
		"errors":   tally[repository.RecordError],
		"skipped":  tally[repository.RecordSkipped],
	})

	if initial {
		s.notify(ctx, job, string(repository.JobCompleted), tally)
	}

	s.logger.InfoContext(ctx, "import loop finished",
		slog.String("job_id", jobID.String()),
		slog.Int("processed", processed),
		slog.Bool("initial", initial))
	return nil
}

// processRow drives one record to a terminal state. The returned error is
// non-nil only for job-aborting conditions; everything else is captured on
// the record.
func (s *Service) processRow(ctx context.Context, job *repository.Job, rec *repository.Record) (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected error: %v", r)
			rec.Status = repository.RecordError
			rec.ErrorMessage = &msg
			fatal = nil // a single row never aborts the job
		}
	}()

	mapping := *job.ColumnMapping
	rawDate := strings.TrimSpace(rec.RawData[mapping.Date])
	rawDescription := strings.TrimSpace(rec.RawData[mapping.Description])
	rawAmount := strings.TrimSpace(rec.RawData[mapping.Amount])
	rawEnvelope := ""
	if mapping.Envelope != "" {
		rawEnvelope = strings.TrimSpace(rec.RawData[mapping.Envelope])
	}

	if rawDescription != "" {
		rec.Description = &rawDescription
	}

	var missing []string
	if rawDate == "" {
		missing = append(missing, "date")
	}
	if rawDescription == "" {
		missing = append(missing, "description")
	}
	if rawAmount == "" {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		// Keep whatever still parses so the row is reviewable.
		if rawDate != "" {
			if d, err := normalizer.ParseDate(rawDate); err == nil {
				rec.Date = &d
			}
		}
		if rawAmount != "" {
			if a, err := normalizer.ParseAmount(rawAmount); err == nil {
				rec.AmountMinor = &a
			}
		}
		return s.rowError(rec, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	amountMinor, err := normalizer.ParseAmount(rawAmount)
	if err != nil {
		return s.rowError(rec, fmt.Sprintf("invalid amount %q: %v", rawAmount, err))
	}
	rec.AmountMinor = &amountMinor

	date, err := normalizer.ParseDate(rawDate)
	if err != nil {
		return s.rowError(rec, fmt.Sprintf("invalid date %q: %v", rawDate, err))
	}
	rec.Date = &date

	envelopeName := rawEnvelope
	if envelopeName == "" {
		envelopeName = envelope.GlobalDefaultName
	}
	rec.Envelope = &envelopeName

	duplicate, err := s.txRepo.ExistsDuplicate(ctx, job.UserID, date, rawDescription, amountMinor)
	if err != nil {
		return s.rowError(rec, fmt.Sprintf("duplicate check failed: %v", err))
	}
	if duplicate {
		rec.Status = repository.RecordSkipped
		msg := "duplicate transaction"
		rec.ErrorMessage = &msg
		return nil
	}

	env, err := s.resolver.Resolve(ctx, job.UserID, rawEnvelope)
	if errors.Is(err, envelope.ErrGlobalEnvelopeMissing) {
		// Seed data is gone; no row of this job can be filed correctly.
		return err
	}
	if err != nil {
		return s.rowError(rec, fmt.Sprintf("envelope resolution failed: %v", err))
	}
	rec.Envelope = &env.Name

	tx := &transaction.Transaction{
		UserID:      job.UserID,
		EnvelopeID:  env.ID,
		Description: rawDescription,
		AmountMinor: money.Abs(amountMinor),
		Type:        transaction.TypeForAmount(amountMinor),
		Date:        date,
		ImportJobID: &job.ID,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return s.rowError(rec, fmt.Sprintf("failed to create transaction: %v", err))
	}

	rec.Status = repository.RecordImported
	rec.TransactionID = &tx.ID
	rec.ErrorMessage = nil
	return nil
}

// rowError marks the record ERROR. Always returns nil: row failures never
// abort the loop.
func (s *Service) rowError(rec *repository.Record, msg string) error {
	rec.Status = repository.RecordError
	rec.ErrorMessage = &msg
	return nil
}

// persistProgress recomputes aggregates from current record statuses and
// writes them to the job. Tallying instead of incrementing keeps reprocessing
// honest.
func (s *Service) persistProgress(ctx context.Context, jobID uuid.UUID) repository.StatusTally {
	tally, err := s.repo.CountRecordsByStatus(ctx, jobID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to tally record statuses",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
		return repository.StatusTally{}
	}
	err = s.repo.UpdateJobProgress(ctx, jobID,
		tally.Processed(),
		tally[repository.RecordImported],
		tally[repository.RecordError],
		tally[repository.RecordSkipped])
	if err != nil {
		s.logger.WarnContext(ctx, "failed to persist job progress",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
	return tally
}

// failJob handles the fatal path: the loop stops, the job moves to FAILED
// (initial run only) and the cause lands in the event log. Aggregates are
// re-tallied on every path so rows finished before the abort stay counted.
func (s *Service) failJob(ctx context.Context, job *repository.Job, initial bool, cause error) error {
	s.appendEvent(ctx, job.ID, repository.EventError,
		fmt.Sprintf("import aborted: %v", cause), nil)

	tally := s.persistProgress(ctx, job.ID)
	if initial {
		if err := s.repo.TransitionJob(ctx, job.ID, repository.JobRunning, repository.JobFailed); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark job FAILED",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
		}
		s.notify(ctx, job, string(repository.JobFailed), tally)
	}

	s.logger.ErrorContext(ctx, "import job aborted",
		slog.String("job_id", job.ID.String()),
		slog.String("error", cause.Error()))
	return cause
}

func (s *Service) notify(ctx context.Context, job *repository.Job, status string, tally repository.StatusTally) {
	err := s.notifier.NotifyImportFinished(ctx, mailer.ImportSummary{
		JobID:    job.ID.String(),
		FileName: job.FileName,
		Status:   status,
		Imported: tally[repository.RecordImported],
		Errors:   tally[repository.RecordError],
		Skipped:  tally[repository.RecordSkipped],
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to send import notification",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}
