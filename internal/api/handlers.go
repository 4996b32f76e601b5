package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/submit"
)

const (
	defaultLogLimit = 200
	logFollowWait   = 20 * time.Second
	maxRequestBody  = 1 << 20
)

func (h *handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var capturedAt time.Time
	if value := strings.TrimSpace(req.CapturedAt); value != "" {
		parsed, err := ParseTime(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("capturedAt: %v", err))
			return
		}
		capturedAt = parsed
	}

	result, err := h.backend.Submit(r.Context(), submit.Request{
		Path:       req.Path,
		CapturedAt: capturedAt,
		Import:     req.Import,
		Offline:    req.Offline,
		Source:     req.Source,
	})
	switch {
	case err == nil:
	case errors.Is(err, submit.ErrInvalidPhoto):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrInvalidJob):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		h.serverError(w, r, "submit job", err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		JobID:       result.JobID,
		ArtifactRef: result.ArtifactRef,
		CapturedAt:  formatTime(result.CapturedAt),
		Imported:    result.Imported,
	})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			if strings.TrimSpace(value) == "" {
				continue
			}
			status, ok := queue.ParseStatus(value)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
	}
	jobs, err := h.queue.List(r.Context(), statuses...)
	if err != nil {
		h.serverError(w, r, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, r, "describe job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: *job})
}

func (h *handler) jobHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.queue.History(r.Context(), id)
	if err != nil {
		h.serverError(w, r, "job history", err)
		return
	}
	if history == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{JobID: id, Events: history})
}

func (h *handler) retryJob(w http.ResponseWriter, r *http.Request) {
	results, err := h.backend.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, r, "retry job", err)
		return
	}
	status := http.StatusOK
	if len(results) == 1 && results[0].Err != nil {
		switch {
		case errors.Is(results[0].Err, queue.ErrJobNotFound):
			status = http.StatusNotFound
		case errors.Is(results[0].Err, scheduler.ErrNotRetryable):
			status = http.StatusConflict
		case errors.Is(results[0].Err, scheduler.ErrInvalidJob):
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
		}
	}
	resp := RetryResponse{Results: FromRetryResults(results)}
	if status != http.StatusOK {
		resp.Error = resp.Results[0].Error
	}
	writeJSON(w, status, resp)
}

func (h *handler) queueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Stats(r.Context())
	if err != nil {
		h.serverError(w, r, "queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatsResponse{Counts: counts})
}

func (h *handler) purge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OlderThanDays < 0 {
		writeError(w, http.StatusBadRequest, "olderThanDays must be non-negative")
		return
	}
	removed, err := h.backend.Purge(r.Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		h.serverError(w, r, "purge jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Removed: removed})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Status(r.Context()))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.backend.Status(r.Context())
	resp := HealthResponse{Status: "ok", Health: status.Scheduler.Health}
	code := http.StatusOK
	if !status.Running || !status.Scheduler.Health.Ready {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) logTail(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		writeJSON(w, http.StatusOK, LogStreamResponse{Events: []logging.LogEvent{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	jobID := strings.TrimSpace(query.Get("job"))

	var (
		lines []logging.LogEvent
		next  uint64
	)
	if since == 0 && !follow {
		lines, next = h.logs.Tail(limit)
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), logFollowWait)
		defer cancel()
		var err error
		lines, next, err = h.logs.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			h.serverError(w, r, "fetch logs", err)
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(lines))
	for _, line := range lines {
		if jobID != "" && line.JobID != jobID {
			continue
		}
		filtered = append(filtered, line)
	}
	writeJSON(w, http.StatusOK, LogStreamResponse{Events: filtered, Next: next})
}

func (h *handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "api operation failed", "api_operation_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check daemon log and queue database access"),
		logging.String(logging.FieldImpact, "client request was not served"),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody treats an empty body as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
