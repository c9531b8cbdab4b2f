package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/go-chi/chi/v5"
)

// JobSettler applies worker callbacks to jobs and their entities.
type JobSettler interface {
	Apply(ctx context.Context, result domain.JobResult) error
	Progress(ctx context.Context, progress domain.JobProgress, lease time.Duration) error
}

// JobHandler serves the internal worker callback routes.
type JobHandler struct {
	settler JobSettler
	lease   time.Duration
}

// NewJobHandler creates a JobHandler. Each progress callback extends the
// job's lease by lease.
func NewJobHandler(settler JobSettler, lease time.Duration) *JobHandler {
	return &JobHandler{settler: settler, lease: lease}
}

type JobAckResponse struct {
	JobID string `json:"jobId"`
}

func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var result domain.JobResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !matchJobID(w, &result.JobID, jobID) {
		return
	}

	ctx := logger.WithJobID(r.Context(), jobID)
	if err := h.settler.Apply(ctx, result); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, JobAckResponse{JobID: jobID})
}

func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var progress domain.JobProgress
	if err := json.NewDecoder(r.Body).Decode(&progress); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !matchJobID(w, &progress.JobID, jobID) {
		return
	}

	ctx := logger.WithJobID(r.Context(), jobID)
	if err := h.settler.Progress(ctx, progress, h.lease); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, JobAckResponse{JobID: jobID})
}

// matchJobID fills an omitted body job id from the path and rejects a
// mismatch.
func matchJobID(w http.ResponseWriter, bodyID *string, pathID string) bool {
	if *bodyID == "" {
		*bodyID = pathID
	}
	if *bodyID != pathID {
		api.HandleError(w, domain.Validation("jobId %q does not match path", *bodyID))
		return false
	}
	return true
}
