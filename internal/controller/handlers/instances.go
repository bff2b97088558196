package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clusterplane/internal/entitlement"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// Provision handles POST /instances.
// The caller becomes the instance owner.
func (h *Handlers) Provision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := userFrom(r)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	defID, err := uuid.Parse(req.DefinitionID)
	if err != nil {
		h.httpError(w, "Invalid definition_id", http.StatusBadRequest)
		return
	}

	instanceID, err := h.manager.Provision(ctx, entitlement.ProvisionRequest{
		DefinitionID:     defID,
		OwnerUserID:      user.ID,
		Params:           req.Params,
		ExpiresAt:        req.ExpiresAt,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrDefinitionNotFound):
			h.httpError(w, "Definition not found", http.StatusNotFound)
		case errors.Is(err, entitlement.ErrDefinitionNotPublic):
			h.httpError(w, "Definition is not public", http.StatusForbidden)
		default:
			h.httpError(w, "Failed to provision instance", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusOK, api.ProvisionResponse{InstanceID: instanceID.String()})
}

// GetInstance handles GET /instances/{id}.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireAccess(w, r, instanceID, store.RoleSubscriber); !ok {
		return
	}

	inst, err := h.store.GetInstanceByID(r.Context(), instanceID)
	if err != nil {
		h.httpError(w, "Instance not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, api.InstanceResponse{
		ID:           inst.ID.String(),
		DefinitionID: inst.DefinitionID.String(),
		Version:      inst.Version,
		Status:       string(inst.Status),
		Params:       inst.Params,
		ExpiresAt:    inst.ExpiresAt,
		CreatedAt:    inst.CreatedAt,
	})
}

// Grant handles POST /instances/{id}/grants. Owner or admin only.
func (h *Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireAccess(w, r, instanceID, store.RoleOwner); !ok {
		return
	}

	var req api.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.httpError(w, "Invalid user_id", http.StatusBadRequest)
		return
	}

	role := store.Role(req.Role)
	if role.Rank() == 0 {
		h.httpError(w, "Invalid role", http.StatusBadRequest)
		return
	}

	var startAt, endAt time.Time
	if req.StartAt != nil {
		startAt = *req.StartAt
	}
	if req.EndAt != nil {
		endAt = *req.EndAt
	}

	if err := h.manager.Grant(r.Context(), instanceID, userID, role, startAt, endAt); err != nil {
		switch {
		case errors.Is(err, entitlement.ErrDuplicateOwner):
			h.httpError(w, "Instance already has an owner", http.StatusConflict)
		case errors.Is(err, entitlement.ErrInstanceTerminal):
			h.httpError(w, "Instance is terminated", http.StatusConflict)
		case errors.Is(err, entitlement.ErrInstanceNotFound):
			h.httpError(w, "Instance not found", http.StatusNotFound)
		default:
			h.httpError(w, "Failed to grant access", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusNoContent, nil)
}

// Lifecycle handles POST /instances/{id}/suspend, /resume and
// /terminate. Owner or admin only.
func (h *Handlers) Lifecycle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			h.httpError(w, "Invalid instance id", http.StatusBadRequest)
			return
		}

		if _, ok := h.requireAccess(w, r, instanceID, store.RoleOwner); !ok {
			return
		}

		switch action {
		case "suspend":
			err = h.manager.Suspend(r.Context(), instanceID)
		case "resume":
			err = h.manager.Resume(r.Context(), instanceID)
		case "terminate":
			err = h.manager.Terminate(r.Context(), instanceID)
		}
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				h.httpError(w, "Invalid state transition", http.StatusConflict)
				return
			}
			h.httpError(w, "Failed to update instance", http.StatusInternalServerError)
			return
		}

		h.respondJson(w, http.StatusNoContent, nil)
	}
}

// GetEvents handles GET /instances/{id}/events.
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireAccess(w, r, instanceID, store.RoleSubscriber); !ok {
		return
	}

	events, err := h.store.ListEvents(r.Context(), instanceID, 100)
	if err != nil {
		h.httpError(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	resp := api.GetEventsResponse{Events: make([]api.EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, api.EventResponse{
			ID:        e.ID,
			Type:      e.Type,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
