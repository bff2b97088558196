package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"clusterplane/internal/auth"
	"clusterplane/internal/controller/middleware"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

func userFrom(r *http.Request) (*store.User, bool) {
	return middleware.UserFromContext(r.Context())
}

// CreateUser handles POST /users.
// Bootstraps a user and returns its API key. The key appears in this
// response only; the database keeps its hash.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ExternalIdentity == "" {
		h.httpError(w, "external_identity is required", http.StatusBadRequest)
		return
	}

	key, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Failed to generate key", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		ID:               uuid.New(),
		ExternalIdentity: req.ExternalIdentity,
		Locale:           req.Locale,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.store.CreateUser(ctx, user, auth.HashKey(key)); err != nil {
		h.httpError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.CreateUserResponse{
		UserID: user.ID.String(),
		APIKey: key,
	})
}
