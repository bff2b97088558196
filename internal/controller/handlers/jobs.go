package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"clusterplane/internal/scheduler"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// EnqueueJob handles POST /jobs.
// Subscribers and up may schedule work on their instance. A repeated
// idempotency key returns the job already holding it.
func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	instanceID, err := uuid.Parse(req.InstanceID)
	if err != nil {
		h.httpError(w, "Invalid instance_id", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		h.httpError(w, "type is required", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireAccess(w, r, instanceID, store.RoleSubscriber); !ok {
		return
	}

	inst, err := h.store.GetInstanceByID(ctx, instanceID)
	if err != nil {
		h.httpError(w, "Instance not found", http.StatusNotFound)
		return
	}
	if inst.Status != store.InstanceStatusActive {
		h.httpError(w, "Instance is not active", http.StatusConflict)
		return
	}

	job := &store.Job{
		InstanceID:     instanceID,
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.RunAt != nil {
		job.RunAt = req.RunAt.UTC()
	}

	created, err := scheduler.Enqueue(ctx, h.store, job)
	if err != nil {
		h.httpError(w, "Failed to enqueue job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.EnqueueJobResponse{JobID: created.ID.String()})
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	if _, ok := h.requireAccess(w, r, job.InstanceID, store.RoleSubscriber); !ok {
		return
	}

	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// CancelJob handles POST /jobs/{id}/cancel.
// Cancelling a finished job is a no-op; a running one is a conflict.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	if _, ok := h.requireAccess(w, r, job.InstanceID, store.RoleSubscriber); !ok {
		return
	}

	if err := h.store.MarkCancelled(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.httpError(w, "Job is running and cannot be cancelled", http.StatusConflict)
			return
		}
		h.httpError(w, "Failed to cancel job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusNoContent, nil)
}

func jobResponse(job *store.Job) api.JobResponse {
	resp := api.JobResponse{
		ID:         job.ID.String(),
		InstanceID: job.InstanceID.String(),
		Type:       job.Type,
		Status:     string(job.Status),
		Attempts:   job.Attempts,
		RunAt:      job.RunAt,
		LastError:  job.LastError,
		CreatedAt:  job.CreatedAt,
	}
	if job.ClaimedAt != nil {
		t := job.ClaimedAt.UTC()
		resp.ClaimedAt = &t
	}
	return resp
}
