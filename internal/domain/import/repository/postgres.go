package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/envelopefin/envelope-api/internal/domain/import/sniffer"
)

// ImportRepository persists jobs, records and events.
type ImportRepository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID, userID uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*Job, error)
	// TransitionJob moves a job between statuses. The move must be allowed by
	// the transition table and the row must still be in the from status.
	TransitionJob(ctx context.Context, jobID uuid.UUID, from, to JobStatus) error
	SetColumnMapping(ctx context.Context, jobID uuid.UUID, mapping sniffer.Mapping, totalRows int) error
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processed, imported, errored, skipped int) error

	BulkCreateRecords(ctx context.Context, records []*Record) error
	// ClaimRecord performs the conditional PENDING -> PROCESSING move and
	// reports whether this caller won the claim.
	ClaimRecord(ctx context.Context, recordID uuid.UUID) (bool, error)
	FinishRecord(ctx context.Context, rec *Record) error
	// ResetRecords returns ERROR records in the set to PENDING, clearing their
	// outcome fields, and returns the ids actually reset.
	ResetRecords(ctx context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]uuid.UUID, error)
	ListRecordsForProcessing(ctx context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]*Record, error)
	ListRecords(ctx context.Context, jobID uuid.UUID, filter RecordFilter) ([]*Record, int, error)
	ListErrorRecords(ctx context.Context, jobID uuid.UUID) ([]*Record, error)
	CountRecordsByStatus(ctx context.Context, jobID uuid.UUID) (StatusTally, error)

	AppendEvent(ctx context.Context, event *Event) error
	ListRecentEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*Event, error)
	ListRecentErrorEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*Event, error)

	ListStalledJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error)
}

// Querier is the pool surface the repository uses. Satisfied by pgxpool.Pool
// and pgxmock.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PostgresRepository struct {
	pool Querier
}

func NewPostgresRepository(pool Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const jobColumns = `id, user_id, file_name, mime_type, size_bytes, status, column_mapping,
	total_rows, processed_rows, imported_rows, error_rows, skipped_rows,
	started_at, finished_at, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.UserID, &j.FileName, &j.MimeType, &j.SizeBytes, &j.Status,
		&j.ColumnMapping, &j.TotalRows, &j.ProcessedRows, &j.ImportedRows, &j.ErrorRows,
		&j.SkippedRows, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO import_jobs (user_id, file_name, mime_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		job.UserID, job.FileName, job.MimeType, job.SizeBytes, JobQueued,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	job.Status = JobQueued
	return nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, jobID, userID uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1 AND user_id = $2`

	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) TransitionJob(ctx context.Context, jobID uuid.UUID, from, to JobStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE import_jobs
		SET status = $1,
		    started_at = CASE WHEN $1 = 'RUNNING' THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED') THEN now() ELSE finished_at END,
		    updated_at = now()
		WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, to, jobID, from)
	if err != nil {
		return fmt.Errorf("failed to transition job to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s no longer in %s", ErrInvalidTransition, jobID, from)
	}
	return nil
}

func (r *PostgresRepository) SetColumnMapping(ctx context.Context, jobID uuid.UUID, mapping sniffer.Mapping, totalRows int) error {
	query := `
		UPDATE import_jobs
		SET column_mapping = $1, total_rows = $2, updated_at = now()
		WHERE id = $3`

	if _, err := r.pool.Exec(ctx, query, mapping, totalRows, jobID); err != nil {
		return fmt.Errorf("failed to store column mapping: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processed, imported, errored, skipped int) error {
	query := `
		UPDATE import_jobs
		SET processed_rows = $1, imported_rows = $2, error_rows = $3, skipped_rows = $4,
		    updated_at = now()
		WHERE id = $5`

	if _, err := r.pool.Exec(ctx, query, processed, imported, errored, skipped, jobID); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

const recordColumns = `id, job_id, row_number, raw_data, status, txn_date, description,
	amount_minor, envelope, error_message, processed_at, transaction_id, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	err := row.Scan(&rec.ID, &rec.JobID, &rec.RowNumber, &rec.RawData, &rec.Status,
		&rec.Date, &rec.Description, &rec.AmountMinor, &rec.Envelope, &rec.ErrorMessage,
		&rec.ProcessedAt, &rec.TransactionID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) BulkCreateRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO import_records (job_id, row_number, raw_data, status)
			VALUES ($1, $2, $3, $4)`,
			rec.JobID, rec.RowNumber, rec.RawData, RecordPending)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to bulk create records: %w", err)
		}
	}
	return results.Close()
}

func (r *PostgresRepository) ClaimRecord(ctx context.Context, recordID uuid.UUID) (bool, error) {
	query := `
		UPDATE import_records SET status = $1
		WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, RecordProcessing, recordID, RecordPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) FinishRecord(ctx context.Context, rec *Record) error {
	if !RecordProcessing.CanTransition(rec.Status) {
		return fmt.Errorf("%w: PROCESSING -> %s", ErrInvalidTransition, rec.Status)
	}

	query := `
		UPDATE import_records
		SET status = $1, txn_date = $2, description = $3, amount_minor = $4, envelope = $5,
		    error_message = $6, processed_at = now(), transaction_id = $7
		WHERE id = $8 AND status = $9`

	tag, err := r.pool.Exec(ctx, query,
		rec.Status, rec.Date, rec.Description, rec.AmountMinor, rec.Envelope,
		rec.ErrorMessage, rec.TransactionID, rec.ID, RecordProcessing)
	if err != nil {
		return fmt.Errorf("failed to finish record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s not in PROCESSING", ErrInvalidTransition, rec.ID)
	}
	return nil
}

func (r *PostgresRepository) ResetRecords(ctx context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE import_records
		SET status = $1, error_message = NULL, processed_at = NULL, transaction_id = NULL
		WHERE job_id = $2 AND id = ANY($3) AND status = $4
		RETURNING id`

	rows, err := r.pool.Query(ctx, query, RecordPending, jobID, recordIDs, RecordError)
	if err != nil {
		return nil, fmt.Errorf("failed to reset records: %w", err)
	}
	defer rows.Close()

	var reset []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reset record id: %w", err)
		}
		reset = append(reset, id)
	}
	return reset, rows.Err()
}

func (r *PostgresRepository) ListRecordsForProcessing(ctx context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM import_records
		WHERE job_id = $1 AND status = $2 AND ($3::uuid[] IS NULL OR id = ANY($3))
		ORDER BY row_number`

	var idsParam any
	if len(recordIDs) > 0 {
		idsParam = recordIDs
	}

	rows, err := r.pool.Query(ctx, query, jobID, RecordPending, idsParam)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for processing: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *PostgresRepository) ListRecords(ctx context.Context, jobID uuid.UUID, filter RecordFilter) ([]*Record, int, error) {
	where := ` FROM import_records
		WHERE job_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text = '' OR description ILIKE '%' || $3 || '%' OR envelope ILIKE '%' || $3 || '%')`

	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*)`+where, jobID, filter.Status, filter.Search).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+where+` ORDER BY row_number LIMIT $4 OFFSET $5`,
		jobID, filter.Status, filter.Search, filter.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *PostgresRepository) ListErrorRecords(ctx context.Context, jobID uuid.UUID) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM import_records
		WHERE job_id = $1 AND status = $2 ORDER BY row_number`

	rows, err := r.pool.Query(ctx, query, jobID, RecordError)
	if err != nil {
		return nil, fmt.Errorf("failed to list error records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *PostgresRepository) CountRecordsByStatus(ctx context.Context, jobID uuid.UUID) (StatusTally, error) {
	query := `SELECT status, count(*) FROM import_records WHERE job_id = $1 GROUP BY status`

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count records by status: %w", err)
	}
	defer rows.Close()

	tally := StatusTally{}
	for rows.Next() {
		var status RecordStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status tally: %w", err)
		}
		tally[status] = count
	}
	return tally, rows.Err()
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO import_events (job_id, type, message, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		event.JobID, event.Type, event.Message, event.Payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecentEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*Event, error) {
	return r.listEvents(ctx,
		`SELECT id, job_id, type, message, payload, created_at FROM import_events
		WHERE job_id = $1 ORDER BY created_at DESC LIMIT $2`, jobID, limit)
}

func (r *PostgresRepository) ListRecentErrorEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*Event, error) {
	return r.listEvents(ctx,
		`SELECT id, job_id, type, message, payload, created_at FROM import_events
		WHERE job_id = $1 AND type = 'ERROR' ORDER BY created_at DESC LIMIT $2`, jobID, limit)
}

func (r *PostgresRepository) listEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.Type, &e.Message, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) ListStalledJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs
		WHERE status = $1 AND started_at < now() - make_interval(secs => $2)`

	rows, err := r.pool.Query(ctx, query, JobRunning, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stalled job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
