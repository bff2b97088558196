package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"clusterplane/internal/vault"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// StoreCredential handles POST /credentials.
// The caller becomes the credential owner.
func (h *Handlers) StoreCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.StoreCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Secret == "" || len(req.Scopes) == 0 {
		h.httpError(w, "secret and scopes are required", http.StatusBadRequest)
		return
	}

	var subscriber *uuid.UUID
	if req.SubscriberUserID != "" {
		id, err := uuid.Parse(req.SubscriberUserID)
		if err != nil {
			h.httpError(w, "Invalid subscriber_user_id", http.StatusBadRequest)
			return
		}
		subscriber = &id
	}

	ref, err := h.vault.Put(r.Context(), user.ID, subscriber, []byte(req.Secret), req.Scopes)
	if err != nil {
		h.httpError(w, "Failed to store credential", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.StoreCredentialResponse{Ref: ref.String()})
}

// RevealCredential handles POST /credentials/{ref}/reveal.
// Authorization failures return 404 so references leak nothing.
func (h *Handlers) RevealCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ref, err := uuid.Parse(r.PathValue("ref"))
	if err != nil {
		h.httpError(w, "Invalid credential ref", http.StatusBadRequest)
		return
	}

	var req api.RevealCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Scope == "" {
		h.httpError(w, "scope is required", http.StatusBadRequest)
		return
	}

	secret, err := h.vault.Reveal(r.Context(), ref, user.ID, req.Scope)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrScopeDenied):
			h.httpError(w, "Scope not granted", http.StatusForbidden)
		case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrNotOwner):
			h.httpError(w, "Credential not found", http.StatusNotFound)
		default:
			h.httpError(w, "Failed to reveal credential", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusOK, api.RevealCredentialResponse{Secret: string(secret)})
}

// RevokeCredential handles DELETE /credentials/{ref}.
func (h *Handlers) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ref, err := uuid.Parse(r.PathValue("ref"))
	if err != nil {
		h.httpError(w, "Invalid credential ref", http.StatusBadRequest)
		return
	}

	if err := h.vault.Revoke(r.Context(), ref, user.ID); err != nil {
		if errors.Is(err, vault.ErrNotFound) || errors.Is(err, vault.ErrNotOwner) {
			h.httpError(w, "Credential not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to revoke credential", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusNoContent, nil)
}
