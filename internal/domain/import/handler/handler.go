// Package handler exposes the import pipeline over JSON HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/envelopefin/envelope-api/internal/domain/import/repository"
	"github.com/envelopefin/envelope-api/internal/domain/import/service"
	"github.com/envelopefin/envelope-api/internal/domain/import/sniffer"
	"github.com/envelopefin/envelope-api/pkg/auth"
)

// ImportService is the surface the handler drives. *service.Service
// implements it.
type ImportService interface {
	InitJob(ctx context.Context, userID uuid.UUID, fileName, mimeType string, sizeBytes int64) (*repository.Job, error)
	ConfirmJob(ctx context.Context, userID, jobID uuid.UUID, mapping sniffer.Mapping, fileContent string) (*repository.Job, error)
	Reprocess(ctx context.Context, userID, jobID uuid.UUID, recordIDs []uuid.UUID) (int, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*service.JobDetail, error)
	GetJobStats(ctx context.Context, userID, jobID uuid.UUID) (*service.JobStats, error)
	ListJobs(ctx context.Context, userID uuid.UUID) ([]*repository.Job, error)
	ListRecords(ctx context.Context, userID, jobID uuid.UUID, filter repository.RecordFilter) ([]*repository.Record, int, error)
	ExportErrorRecords(ctx context.Context, userID, jobID uuid.UUID, w io.Writer) error
}

type Handler struct {
	svc    ImportService
	logger *slog.Logger
}

func New(svc ImportService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the import endpoints on a router group. The caller wraps the
// group with the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/imports/init", h.initJob)
	r.Get("/imports", h.listJobs)
	r.Post("/imports/{jobId}/confirm", h.confirmJob)
	r.Get("/imports/{jobId}", h.getJob)
	r.Get("/imports/{jobId}/stats", h.getStats)
	r.Get("/imports/{jobId}/transactions", h.listRecords)
	r.Get("/imports/{jobId}/errors/export", h.exportErrors)
	r.Post("/imports/{jobId}/reprocess", h.reprocess)
}

type initRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

func (h *Handler) initJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.InitJob(r.Context(), userID, req.Filename, req.MimeType, req.Size)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

type confirmRequest struct {
	ColumnMapping sniffer.Mapping `json:"columnMapping"`
	FileContent   string          `json:"fileContent"`
}

func (h *Handler) confirmJob(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.ConfirmJob(r.Context(), userID, jobID, req.ColumnMapping, req.FileContent)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"jobId":     job.ID,
		"status":    job.Status,
		"totalRows": job.TotalRows,
	})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.GetJob(r.Context(), userID, jobID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	lines := make([]string, 0, len(detail.Events))
	for _, e := range detail.Events {
		lines = append(lines, formatEventLine(e))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"job":    detail.Job,
		"events": lines,
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.GetJobStats(r.Context(), userID, jobID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"counts": map[string]int{
			"pending":    stats.Tally[repository.RecordPending],
			"processing": stats.Tally[repository.RecordProcessing],
			"imported":   stats.Tally[repository.RecordImported],
			"error":      stats.Tally[repository.RecordError],
			"skipped":    stats.Tally[repository.RecordSkipped],
		},
		"errorEvents": stats.ErrorEvents,
	})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	filter, err := parseRecordFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := h.svc.ListRecords(r.Context(), userID, jobID, filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (h *Handler) exportErrors(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	// Render to a buffer first so a mid-export failure still gets a clean
	// error response instead of a truncated CSV.
	var buf bytes.Buffer
	if err := h.svc.ExportErrorRecords(r.Context(), userID, jobID, &buf); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "import-errors-"+jobID.String()+".csv"))
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.ErrorContext(r.Context(), "error export write failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

type reprocessRequest struct {
	RecordIDs []uuid.UUID `json:"recordIds"`
}

func (h *Handler) reprocess(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted, err := h.svc.Reprocess(r.Context(), userID, jobID, req.RecordIDs)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

// identify resolves the authenticated user and the jobId path parameter.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, uuid.Nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, jobID, true
}

func parseRecordFilter(r *http.Request) (repository.RecordFilter, error) {
	filter := repository.RecordFilter{Search: r.URL.Query().Get("search")}

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return filter, fmt.Errorf("page must be a positive integer")
		}
		filter.Page = page
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := repository.ParseRecordStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	return filter, nil
}

func formatEventLine(e *repository.Event) string {
	return fmt.Sprintf("%s [%s] %s", e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Type, e.Message)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrJobNotFound):
		h.writeError(w, http.StatusNotFound, "import job not found")
	default:
		h.logger.ErrorContext(r.Context(), "import request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
