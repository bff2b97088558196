package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"clusterplane/internal/gateway"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// Complete handles POST /instances/{id}/completions.
// Routes a model call through the gateway's quota, cache and fallback
// chain.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	user, ok := h.requireAccess(w, r, instanceID, store.RoleSubscriber)
	if !ok {
		return
	}

	var req api.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		h.httpError(w, "messages are required", http.StatusBadRequest)
		return
	}

	inst, err := h.store.GetInstanceByID(r.Context(), instanceID)
	if err != nil {
		h.httpError(w, "Instance not found", http.StatusNotFound)
		return
	}
	if inst.Status != store.InstanceStatusActive {
		h.httpError(w, "Instance is not active", http.StatusConflict)
		return
	}

	messages := make([]gateway.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, gateway.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := h.gateway.Complete(r.Context(), inst, user.ID, &gateway.Request{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrQuotaExceeded):
			w.Header().Set("Retry-After", "60")
			h.httpError(w, "Quota exceeded", http.StatusTooManyRequests)
		case errors.Is(err, gateway.ErrNoCredential):
			h.httpError(w, "Instance has no model credential", http.StatusConflict)
		case errors.Is(err, gateway.ErrAllProvidersFailed):
			h.httpError(w, "All providers unavailable", http.StatusBadGateway)
		default:
			h.httpError(w, "Completion failed", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusOK, api.CompletionResponse{
		Content:   resp.Content,
		Citations: resp.Citations,
		Provider:  resp.Provider,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Cached:    resp.Cached,
	})
}
