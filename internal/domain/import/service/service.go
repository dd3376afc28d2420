// Package service drives the bulk import pipeline: job lifecycle, the
// per-row processing loop, and targeted reprocessing of failed rows.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/envelopefin/envelope-api/internal/domain/envelope"
	"github.com/envelopefin/envelope-api/internal/domain/import/parser"
	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
	"github.com/envelopefin/envelope-api/internal/domain/import/sniffer"
	"github.com/envelopefin/envelope-api/internal/domain/transaction"
	"github.com/envelopefin/envelope-api/pkg/jobs"
	"github.com/envelopefin/envelope-api/pkg/mailer"
	"github.com/envelopefin/envelope-api/pkg/metrics"
)

// ErrValidation marks request errors the handler should map to 400.
var ErrValidation = errors.New("validation failed")

const (
	progressInterval = 50
	logEveryImports  = 100

	recentEventsLimit = 20
	errorEventsLimit  = 10
	listJobsLimit     = 50

	recordLimitMin     = 1
	recordLimitMax     = 100
	recordLimitDefault = 20
)

// Service owns the import pipeline.
type Service struct {
	repo     repository.ImportRepository
	txRepo   transaction.Repository
	resolver *envelope.Resolver
	pool     *jobs.Pool
	metrics  *metrics.Metrics
	notifier mailer.Notifier
	tracer   trace.Tracer
	logger   *slog.Logger

	maxUploadBytes int64
}

func New(
	repo repository.ImportRepository,
	txRepo transaction.Repository,
	resolver *envelope.Resolver,
	pool *jobs.Pool,
	m *metrics.Metrics,
	notifier mailer.Notifier,
	tracer trace.Tracer,
	logger *slog.Logger,
	maxUploadBytes int64,
) *Service {
	return &Service{
		repo:           repo,
		txRepo:         txRepo,
		resolver:       resolver,
		pool:           pool,
		metrics:        m,
		notifier:       notifier,
		tracer:         tracer,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// InitJob registers an upload and creates the job in QUEUED.
func (s *Service) InitJob(ctx context.Context, userID uuid.UUID, fileName, mimeType string, sizeBytes int64) (*repository.Job, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if sizeBytes > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds the %d byte upload limit", ErrValidation, s.maxUploadBytes)
	}

	job := &repository.Job{
		UserID:    userID,
		FileName:  fileName,
		MimeType:  mimeType,
		SizeBytes: sizeBytes,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, repository.EventLog,
		fmt.Sprintf("import job created for file %q", fileName), nil)

	s.logger.InfoContext(ctx, "import job created",
		slog.String("job_id", job.ID.String()),
		slog.String("file_name", fileName))
	return job, nil
}

// ConfirmJob parses the uploaded content, resolves the column mapping,
// creates one record per data row and schedules the processing loop. The job
// leaves in RUNNING.
func (s *Service) ConfirmJob(ctx context.Context, userID, jobID uuid.UUID, userMapping sniffer.Mapping, fileContent string) (*repository.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.JobQueued {
		return nil, fmt.Errorf("%w: job is already %s", ErrValidation, job.Status)
	}
	if fileContent == "" {
		return nil, fmt.Errorf("%w: fileContent is required", ErrValidation)
	}

	doc, err := decodeDocument(job.MimeType, fileContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(doc.Rows) == 0 {
		return nil, fmt.Errorf("%w: file contains no data rows", ErrValidation)
	}

	mapping, err := sniffer.ResolveMapping(doc.Headers, userMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	records := make([]*repository.Record, 0, len(doc.Rows))
	for _, row := range doc.Rows {
		raw := make(map[string]string, len(doc.Headers))
		for i, header := range doc.Headers {
			raw[header] = row.CellAt(i)
		}
		records = append(records, &repository.Record{
			JobID:     job.ID,
			RowNumber: row.Number,
			RawData:   raw,
			Status:    repository.RecordPending,
		})
	}
	if err := s.repo.BulkCreateRecords(ctx, records); err != nil {
		return nil, err
	}

	if err := s.repo.SetColumnMapping(ctx, job.ID, mapping, len(records)); err != nil {
		return nil, err
	}
	// Also logged as an event so the mapping survives in the audit trail.
	s.appendEvent(ctx, job.ID, repository.EventLog, "column mapping confirmed", map[string]any{
		"mapping":   mapping,
		"totalRows": len(records),
	})

	if err := s.repo.TransitionJob(ctx, job.ID, repository.JobQueued, repository.JobRunning); err != nil {
		return nil, err
	}

	if _, err := s.pool.Submit("import:"+job.ID.String(), func(taskCtx context.Context) error {
		return s.processJob(taskCtx, job.ID, userID, nil, true)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule import job: %w", err)
	}

	job.Status = repository.JobRunning
	job.ColumnMapping = &mapping
	job.TotalRows = len(records)

	s.logger.InfoContext(ctx, "import job confirmed",
		slog.String("job_id", job.ID.String()),
		slog.Int("total_rows", job.TotalRows))
	return job, nil
}

// Reprocess resets the selected ERROR records to PENDING and schedules the
// processing loop over just those rows. Returns how many records were
// accepted; rows not currently in ERROR are ignored.
func (s *Service) Reprocess(ctx context.Context, userID, jobID uuid.UUID, recordIDs []uuid.UUID) (int, error) {
	if len(recordIDs) == 0 {
		return 0, fmt.Errorf("%w: recordIds must not be empty", ErrValidation)
	}

	job, err := s.repo.GetJob(ctx, jobID, userID)
	if err != nil {
		return 0, err
	}
	if job.ColumnMapping == nil {
		return 0, fmt.Errorf("%w: job has no stored column mapping and cannot be reprocessed", ErrValidation)
	}

	reset, err := s.repo.ResetRecords(ctx, jobID, recordIDs)
	if err != nil {
		return 0, err
	}
	if len(reset) == 0 {
		return 0, fmt.Errorf("%w: none of the selected records are in ERROR", ErrValidation)
	}

	if _, err := s.pool.Submit("reprocess:"+jobID.String(), func(taskCtx context.Context) error {
		return s.processJob(taskCtx, jobID, userID, reset, false)
	}); err != nil {
		return 0, fmt.Errorf("failed to schedule reprocessing: %w", err)
	}

	s.logger.InfoContext(ctx, "reprocessing scheduled",
		slog.String("job_id", jobID.String()),
		slog.Int("records", len(reset)))
	return len(reset), nil
}

// JobDetail is a job with its most recent events.
type JobDetail struct {
	Job    *repository.Job
	Events []*repository.Event
}

func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*JobDetail, error) {
	job, err := s.repo.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListRecentEvents(ctx, jobID, recentEventsLimit)
	if err != nil {
		return nil, err
	}
	return &JobDetail{Job: job, Events: events}, nil
}

// JobStats carries per-status record counts plus recent error events.
type JobStats struct {
	Tally       repository.StatusTally
	ErrorEvents []*repository.Event
}

func (s *Service) GetJobStats(ctx context.Context, userID, jobID uuid.UUID) (*JobStats, error) {
	if _, err := s.repo.GetJob(ctx, jobID, userID); err != nil {
		return nil, err
	}
	tally, err := s.repo.CountRecordsByStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListRecentErrorEvents(ctx, jobID, errorEventsLimit)
	if err != nil {
		return nil, err
	}
	return &JobStats{Tally: tally, ErrorEvents: events}, nil
}

func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID) ([]*repository.Job, error) {
	return s.repo.ListJobs(ctx, userID, listJobsLimit)
}

// ListRecords returns one page of a job's records plus the unpaginated total.
func (s *Service) ListRecords(ctx context.Context, userID, jobID uuid.UUID, filter repository.RecordFilter) ([]*repository.Record, int, error) {
	if _, err := s.repo.GetJob(ctx, jobID, userID); err != nil {
		return nil, 0, err
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit == 0:
		filter.Limit = recordLimitDefault
	case filter.Limit < recordLimitMin:
		filter.Limit = recordLimitMin
	case filter.Limit > recordLimitMax:
		filter.Limit = recordLimitMax
	}

	return s.repo.ListRecords(ctx, jobID, filter)
}

type errorExportRow struct {
	RowNumber   int    `csv:"row_number"`
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Envelope    string `csv:"envelope"`
	Error       string `csv:"error"`
}

// ExportErrorRecords writes the job's ERROR records as CSV.
func (s *Service) ExportErrorRecords(ctx context.Context, userID, jobID uuid.UUID, w io.Writer) error {
	if _, err := s.repo.GetJob(ctx, jobID, userID); err != nil {
		return err
	}
	records, err := s.repo.ListErrorRecords(ctx, jobID)
	if err != nil {
		return err
	}

	rows := make([]*errorExportRow, 0, len(records))
	for _, rec := range records {
		row := &errorExportRow{RowNumber: rec.RowNumber}
		if rec.Date != nil {
			row.Date = rec.Date.Format("2006-01-02")
		}
		if rec.Description != nil {
			row.Description = *rec.Description
		}
		if rec.AmountMinor != nil {
			row.Amount = fmt.Sprintf("%d", *rec.AmountMinor)
		}
		if rec.Envelope != nil {
			row.Envelope = *rec.Envelope
		}
		if rec.ErrorMessage != nil {
			row.Error = *rec.ErrorMessage
		}
		rows = append(rows, row)
	}

	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write error export: %w", err)
	}
	return nil
}

// decodeDocument picks the decoder by declared MIME type. Spreadsheet content
// arrives base64-encoded; plain text is parsed as-is.
func decodeDocument(mimeType, content string) (*parser.Document, error) {
	if isSpreadsheet(mimeType) {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("spreadsheet content is not valid base64: %w", err)
		}
		return parser.DecodeWorkbook(data)
	}
	return parser.ParseDocument(content)
}

func isSpreadsheet(mimeType string) bool {
	switch mimeType {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel":
		return true
	}
	return false
}

func (s *Service) appendEvent(ctx context.Context, jobID uuid.UUID, typ repository.EventType, message string, payload map[string]any) {
	event := &repository.Event{JobID: jobID, Type: typ, Message: message, Payload: payload}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		// The event log is best-effort; losing an entry must not fail the job.
		s.logger.WarnContext(ctx, "failed to append import event",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}
