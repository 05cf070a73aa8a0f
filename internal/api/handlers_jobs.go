package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/services"
	"github.com/Lllllllleong/mathcheckin/internal/stream"
	"github.com/go-chi/chi/v5"
)

// StartBatch accepts a mass QR upload for a PDF already in the object store.
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req models.StartBatchRequest
	if err := h.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if !h.deps.Auth.IsApproved(req.UserEmail) {
		respondError(w, r, auth.ErrNotApproved)
		return
	}

	jobID, err := h.deps.Batch.Start(r.Context(), services.BatchSource{
		ObjectKey: req.FileID,
		Credentials: models.Credentials{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
		UserEmail: req.UserEmail,
		Trigger:   services.TriggerAPI,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.StartJobResponse{JobID: jobID})
}

// StartCheckIn starts a single-student check-in. The API key may also
// arrive in the JSON body.
func (h *Handler) StartCheckIn(w http.ResponseWriter, r *http.Request) {
	var req models.CheckInRequest
	if err := readJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	key := auth.APIKeyFromRequest(r)
	if key == "" {
		key = req.APIKey
	}
	if err := h.deps.Auth.CheckAPIKey(key); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.validateStruct(&req); err != nil {
		respondError(w, r, err)
		return
	}

	jobID, err := h.deps.CheckIn.Start(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.StartJobResponse{JobID: jobID})
}

func (h *Handler) lookupJob(jobID string, kind models.JobKind) (*jobs.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", services.ErrInvalidRequest)
	}
	job, err := h.deps.Registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if kind != "" && job.Kind != kind {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	return job, nil
}

// StreamBatch serves batch progress as server-sent events.
func (h *Handler) StreamBatch(w http.ResponseWriter, r *http.Request) {
	h.serveSSE(w, r, models.JobKindBatch)
}

// StreamCheckIn serves check-in progress as server-sent events.
func (h *Handler) StreamCheckIn(w http.ResponseWriter, r *http.Request) {
	h.serveSSE(w, r, models.JobKindCheckIn)
}

func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, kind models.JobKind) {
	jobID := r.URL.Query().Get("jobId")
	job, err := h.lookupJob(jobID, kind)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sub := job.Stream().Subscribe()
	if err := stream.ServeSSE(w, r, jobID, sub, h.opts.Heartbeat); err != nil {
		slog.Debug("Progress stream closed early.", "jobId", jobID, "error", err)
	}
}

// StreamBatchWS serves batch progress over a one-way WebSocket.
func (h *Handler) StreamBatchWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	job, err := h.lookupJob(jobID, "")
	if err != nil {
		respondError(w, r, err)
		return
	}
	sub := job.Stream().Subscribe()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.Warn("WebSocket upgrade failed.", "jobId", jobID, "error", err)
		return
	}
	if err := stream.ServeWS(r.Context(), conn, sub, h.opts.Heartbeat); err != nil {
		slog.Debug("WebSocket stream closed early.", "jobId", jobID, "error", err)
	}
}

// JobStatus returns a snapshot of any job.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(chi.URLParam(r, "jobId"), "")
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// CancelJob cancels a running job. Cancelling a finished job is a no-op
// that still reports its snapshot.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(chi.URLParam(r, "jobId"), "")
	if err != nil {
		respondError(w, r, err)
		return
	}
	job.Cancel()
	slog.Info("Job cancellation requested.", "jobId", job.ID)
	respondJSON(w, http.StatusAccepted, job.Snapshot())
}
