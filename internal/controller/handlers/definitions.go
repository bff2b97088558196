package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// CreateDefinition handles POST /definitions.
// Registers a new cluster definition with no released versions yet.
func (h *Handlers) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Slug == "" {
		h.httpError(w, "slug is required", http.StatusBadRequest)
		return
	}

	def := &store.ClusterDefinition{
		ID:        uuid.New(),
		Slug:      req.Slug,
		IsPublic:  req.IsPublic,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.httpError(w, "Slug already registered", http.StatusConflict)
			return
		}
		h.httpError(w, "Failed to create definition", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.CreateDefinitionResponse{
		DefinitionID: def.ID.String(),
	})
}

// ReleaseVersion handles POST /definitions/{id}/versions.
// Appends an immutable version; the number must be current+1.
func (h *Handlers) ReleaseVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid definition id", http.StatusBadRequest)
		return
	}

	var req api.ReleaseVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Version <= 0 || len(req.WorkflowPayload) == 0 {
		h.httpError(w, "version and workflow_payload are required", http.StatusBadRequest)
		return
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	version := &store.ClusterVersion{
		ID:              uuid.New(),
		DefinitionID:    defID,
		Version:         req.Version,
		WorkflowPayload: req.WorkflowPayload,
		Migration:       req.Migration,
		ReleasedAt:      time.Now().UTC(),
	}
	if err := h.store.ReleaseVersion(ctx, tx, version); err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.httpError(w, "Version must be current+1", http.StatusConflict)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Definition not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to release version", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, map[string]int{"version": req.Version})
}
