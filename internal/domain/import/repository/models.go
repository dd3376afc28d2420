package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/envelopefin/envelope-api/internal/domain/import/sniffer"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning},
	JobRunning: {JobCompleted, JobFailed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return len(jobTransitions[s]) == 0
}

func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobQueued, JobRunning, JobCompleted, JobFailed:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// RecordStatus is the lifecycle state of a single imported row.
type RecordStatus string

const (
	RecordPending    RecordStatus = "PENDING"
	RecordProcessing RecordStatus = "PROCESSING"
	RecordImported   RecordStatus = "IMPORTED"
	RecordError      RecordStatus = "ERROR"
	RecordSkipped    RecordStatus = "SKIPPED"
)

var recordTransitions = map[RecordStatus][]RecordStatus{
	RecordPending:    {RecordProcessing},
	RecordProcessing: {RecordImported, RecordError, RecordSkipped},
	// Reprocessing resets failed rows; the loop is the only path back out.
	RecordError: {RecordPending},
}

func (s RecordStatus) CanTransition(next RecordStatus) bool {
	for _, allowed := range recordTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseRecordStatus(s string) (RecordStatus, error) {
	switch RecordStatus(s) {
	case RecordPending, RecordProcessing, RecordImported, RecordError, RecordSkipped:
		return RecordStatus(s), nil
	}
	return "", fmt.Errorf("unknown record status %q", s)
}

// EventType classifies append-only job log entries.
type EventType string

const (
	EventLog      EventType = "LOG"
	EventProgress EventType = "PROGRESS"
	EventError    EventType = "ERROR"
)

// Job is one bulk import attempt over a single uploaded file.
type Job struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"userId"`
	FileName      string           `json:"fileName"`
	MimeType      string           `json:"mimeType"`
	SizeBytes     int64            `json:"sizeBytes"`
	Status        JobStatus        `json:"status"`
	ColumnMapping *sniffer.Mapping `json:"columnMapping,omitempty"`
	TotalRows     int              `json:"totalRows"`
	ProcessedRows int              `json:"processedRows"`
	ImportedRows  int              `json:"importedRows"`
	ErrorRows     int              `json:"errorRows"`
	SkippedRows   int              `json:"skippedRows"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	FinishedAt    *time.Time       `json:"finishedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Record is the working state of one line of the imported file.
type Record struct {
	ID            uuid.UUID         `json:"id"`
	JobID         uuid.UUID         `json:"jobId"`
	RowNumber     int               `json:"rowNumber"`
	RawData       map[string]string `json:"rawData"`
	Status        RecordStatus      `json:"status"`
	Date          *time.Time        `json:"date,omitempty"`
	Description   *string           `json:"description,omitempty"`
	AmountMinor   *int64            `json:"amountMinor,omitempty"`
	Envelope      *string           `json:"envelope,omitempty"`
	ErrorMessage  *string           `json:"errorMessage,omitempty"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
	TransactionID *uuid.UUID        `json:"transactionId,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Event is an append-only log entry attached to a job.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"jobId"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RecordFilter narrows and paginates record listings.
type RecordFilter struct {
	Status *RecordStatus
	Search string
	Page   int
	Limit  int
}

// StatusTally holds per-status record counts for one job.
type StatusTally map[RecordStatus]int

func (t StatusTally) Processed() int {
	return t[RecordImported] + t[RecordError] + t[RecordSkipped]
}
