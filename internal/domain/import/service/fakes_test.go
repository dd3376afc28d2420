package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/envelopefin/envelope-api/internal/domain/envelope"
	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
	"github.com/envelopefin/envelope-api/internal/domain/import/sniffer"
	"github.com/envelopefin/envelope-api/internal/domain/transaction"
	"github.com/envelopefin/envelope-api/pkg/jobs"
	"github.com/envelopefin/envelope-api/pkg/mailer"
	"github.com/envelopefin/envelope-api/pkg/metrics"
)

type fakeImportRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*repository.Job
	records map[uuid.UUID]*repository.Record
	events  []*repository.Event

	lastFilter repository.RecordFilter
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{
		jobs:    map[uuid.UUID]*repository.Job{},
		records: map[uuid.UUID]*repository.Record{},
	}
}

func (f *fakeImportRepo) CreateJob(_ context.Context, job *repository.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.New()
	job.Status = repository.JobQueued
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeImportRepo) GetJob(_ context.Context, jobID, userID uuid.UUID) (*repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, repository.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeImportRepo) ListJobs(_ context.Context, userID uuid.UUID, limit int) ([]*repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Job
	for _, job := range f.jobs {
		if job.UserID == userID && len(out) < limit {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeImportRepo) TransitionJob(_ context.Context, jobID uuid.UUID, from, to repository.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	job, ok := f.jobs[jobID]
	if !ok || job.Status != from {
		return fmt.Errorf("%w: job not in %s", repository.ErrInvalidTransition, from)
	}
	job.Status = to
	now := time.Now()
	if to == repository.JobRunning {
		job.StartedAt = &now
	}
	if to == repository.JobCompleted || to == repository.JobFailed {
		job.FinishedAt = &now
	}
	return nil
}

func (f *fakeImportRepo) SetColumnMapping(_ context.Context, jobID uuid.UUID, mapping sniffer.Mapping, totalRows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ColumnMapping = &mapping
	job.TotalRows = totalRows
	return nil
}

func (f *fakeImportRepo) UpdateJobProgress(_ context.Context, jobID uuid.UUID, processed, imported, errored, skipped int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ProcessedRows = processed
	job.ImportedRows = imported
	job.ErrorRows = errored
	job.SkippedRows = skipped
	return nil
}

func (f *fakeImportRepo) BulkCreateRecords(_ context.Context, records []*repository.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		rec.ID = uuid.New()
		rec.CreatedAt = time.Now()
		f.records[rec.ID] = rec
	}
	return nil
}

func (f *fakeImportRepo) ClaimRecord(_ context.Context, recordID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok || rec.Status != repository.RecordPending {
		return false, nil
	}
	rec.Status = repository.RecordProcessing
	return true, nil
}

func (f *fakeImportRepo) FinishRecord(_ context.Context, rec *repository.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.records[rec.ID]
	if !ok || stored.Status != repository.RecordProcessing {
		return fmt.Errorf("%w: record not in PROCESSING", repository.ErrInvalidTransition)
	}
	if !repository.RecordProcessing.CanTransition(rec.Status) {
		return fmt.Errorf("%w: PROCESSING -> %s", repository.ErrInvalidTransition, rec.Status)
	}
	now := time.Now()
	copied := *rec
	copied.ProcessedAt = &now
	f.records[rec.ID] = &copied
	return nil
}

func (f *fakeImportRepo) ResetRecords(_ context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reset []uuid.UUID
	for _, id := range recordIDs {
		rec, ok := f.records[id]
		if !ok || rec.JobID != jobID || rec.Status != repository.RecordError {
			continue
		}
		rec.Status = repository.RecordPending
		rec.ErrorMessage = nil
		rec.ProcessedAt = nil
		rec.TransactionID = nil
		reset = append(reset, id)
	}
	return reset, nil
}

func (f *fakeImportRepo) ListRecordsForProcessing(_ context.Context, jobID uuid.UUID, recordIDs []uuid.UUID) ([]*repository.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range recordIDs {
		wanted[id] = true
	}
	var out []*repository.Record
	for _, rec := range f.records {
		if rec.JobID != jobID || rec.Status != repository.RecordPending {
			continue
		}
		if len(wanted) > 0 && !wanted[rec.ID] {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sortRecords(out)
	return out, nil
}

func (f *fakeImportRepo) ListRecords(_ context.Context, jobID uuid.UUID, filter repository.RecordFilter) ([]*repository.Record, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	var out []*repository.Record
	for _, rec := range f.records {
		if rec.JobID != jobID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sortRecords(out)
	return out, len(out), nil
}

func (f *fakeImportRepo) ListErrorRecords(_ context.Context, jobID uuid.UUID) ([]*repository.Record, error) {
	status := repository.RecordError
	records, _, err := f.ListRecords(context.Background(), jobID, repository.RecordFilter{Status: &status})
	return records, err
}

func (f *fakeImportRepo) CountRecordsByStatus(_ context.Context, jobID uuid.UUID) (repository.StatusTally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tally := repository.StatusTally{}
	for _, rec := range f.records {
		if rec.JobID == jobID {
			tally[rec.Status]++
		}
	}
	return tally, nil
}

func (f *fakeImportRepo) AppendEvent(_ context.Context, event *repository.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeImportRepo) ListRecentEvents(_ context.Context, jobID uuid.UUID, limit int) ([]*repository.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Event
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].JobID == jobID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeImportRepo) ListRecentErrorEvents(_ context.Context, jobID uuid.UUID, limit int) ([]*repository.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Event
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].JobID == jobID && f.events[i].Type == repository.EventError {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeImportRepo) ListStalledJobs(_ context.Context, olderThan time.Duration) ([]*repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*repository.Job
	for _, job := range f.jobs {
		if job.Status == repository.JobRunning && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeImportRepo) recordsByRow(jobID uuid.UUID) []*repository.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Record
	for _, rec := range f.records {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out
}

func sortRecords(records []*repository.Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j-1].RowNumber > records[j].RowNumber; j-- {
			records[j-1], records[j] = records[j], records[j-1]
		}
	}
}

type duplicateKey struct {
	userID      uuid.UUID
	date        string
	description string
	amountMinor int64
	txType      transaction.Type
}

type fakeTxRepo struct {
	mu       sync.Mutex
	created  []*transaction.Transaction
	existing map[duplicateKey]bool
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{existing: map[duplicateKey]bool{}}
}

func (f *fakeTxRepo) key(userID uuid.UUID, date time.Time, description string, signedMinor int64) duplicateKey {
	amount := signedMinor
	if amount < 0 {
		amount = -amount
	}
	return duplicateKey{
		userID:      userID,
		date:        date.Format("2006-01-02"),
		description: description,
		amountMinor: amount,
		txType:      transaction.TypeForAmount(signedMinor),
	}
}

func (f *fakeTxRepo) Create(_ context.Context, tx *transaction.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx.ID = uuid.New()
	tx.CreatedAt = time.Now()
	f.created = append(f.created, tx)
	signed := tx.AmountMinor
	if tx.Type == transaction.TypeExpense {
		signed = -signed
	}
	f.existing[f.key(tx.UserID, tx.Date, tx.Description, signed)] = true
	return nil
}

func (f *fakeTxRepo) ExistsDuplicate(_ context.Context, userID uuid.UUID, date time.Time, description string, signedMinor int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[f.key(userID, date, description, signedMinor)], nil
}

type fakeEnvelopeRepo struct {
	mu        sync.Mutex
	global    *envelope.Envelope
	envelopes map[string]*envelope.Envelope
}

func newFakeEnvelopeRepo(withGlobal bool) *fakeEnvelopeRepo {
	repo := &fakeEnvelopeRepo{envelopes: map[string]*envelope.Envelope{}}
	if withGlobal {
		repo.global = &envelope.Envelope{
			ID:       uuid.New(),
			Name:     envelope.GlobalDefaultName,
			Type:     envelope.TypeMonetary,
			IsGlobal: true,
		}
	}
	return repo
}

func (f *fakeEnvelopeRepo) GetGlobalDefault(_ context.Context) (*envelope.Envelope, error) {
	if f.global == nil {
		return nil, envelope.ErrGlobalEnvelopeMissing
	}
	return f.global, nil
}

func (f *fakeEnvelopeRepo) GetOrCreate(_ context.Context, userID uuid.UUID, name string) (*envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID.String() + "/" + envelope.FoldName(name)
	if env, ok := f.envelopes[key]; ok {
		return env, nil
	}
	env := &envelope.Envelope{
		ID:          uuid.New(),
		UserID:      &userID,
		Name:        name,
		Type:        envelope.TypeMonetary,
		IsDeletable: true,
	}
	f.envelopes[key] = env
	return env, nil
}

type capturedNotification struct {
	summary mailer.ImportSummary
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []capturedNotification
}

func (f *fakeNotifier) NotifyImportFinished(_ context.Context, summary mailer.ImportSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, capturedNotification{summary: summary})
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *fakeImportRepo
	txRepo   *fakeTxRepo
	envRepo  *fakeEnvelopeRepo
	notifier *fakeNotifier
	pool     *jobs.Pool
}

func newTestEnv(withGlobalEnvelope bool) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newFakeImportRepo()
	txRepo := newFakeTxRepo()
	envRepo := newFakeEnvelopeRepo(withGlobalEnvelope)
	notifier := &fakeNotifier{}
	pool := jobs.NewPool(1, 16, logger)

	svc := New(
		repo,
		txRepo,
		envelope.NewResolver(envRepo, logger),
		pool,
		metrics.New(prometheus.NewRegistry()),
		notifier,
		noop.NewTracerProvider().Tracer("test"),
		logger,
		1<<20,
	)
	return &testEnv{svc: svc, repo: repo, txRepo: txRepo, envRepo: envRepo, notifier: notifier, pool: pool}
}

// drain waits for every scheduled task to finish.
func (e *testEnv) drain(ctx context.Context) error {
	return e.pool.Shutdown(ctx)
}
