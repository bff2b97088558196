// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"clusterplane/internal/entitlement"
	"clusterplane/internal/gateway"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// StoreFactory combines the interfaces needed for the controller to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.UserStore
	store.DefinitionStore
	store.InstanceStore
	store.JobStore
	store.EventStore
}

// EntitlementManager is the slice of the entitlement manager the
// handlers call.
type EntitlementManager interface {
	Provision(ctx context.Context, req entitlement.ProvisionRequest) (uuid.UUID, error)
	Grant(ctx context.Context, instanceID, userID uuid.UUID, role store.Role, startAt, endAt time.Time) error
	CheckAccess(ctx context.Context, instanceID, userID uuid.UUID, required store.Role) (bool, error)
	Suspend(ctx context.Context, instanceID uuid.UUID) error
	Resume(ctx context.Context, instanceID uuid.UUID) error
	Terminate(ctx context.Context, instanceID uuid.UUID) error
}

// CredentialVault is the slice of the vault the handlers call.
type CredentialVault interface {
	Put(ctx context.Context, ownerUserID uuid.UUID, subscriberUserID *uuid.UUID, secret []byte, scopes []string) (uuid.UUID, error)
	Reveal(ctx context.Context, ref, callerUserID uuid.UUID, scope string) ([]byte, error)
	Revoke(ctx context.Context, ref, callerUserID uuid.UUID) error
}

// ModelGateway is the slice of the gateway the handlers call.
type ModelGateway interface {
	Complete(ctx context.Context, inst *store.ClusterInstance, userID uuid.UUID, req *gateway.Request) (*gateway.Response, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store   StoreFactory
	manager EntitlementManager
	vault   CredentialVault
	gateway ModelGateway
}

// New creates a new Handlers instance with the given dependencies.
func New(s StoreFactory, manager EntitlementManager, vault CredentialVault, gw ModelGateway) *Handlers {
	return &Handlers{store: s, manager: manager, vault: vault, gateway: gw}
}

// Healthz reports liveness and database reachability.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.httpError(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// requireAccess loads the caller and checks their role on the
// instance. Missing entitlements surface as 404 so instance IDs leak
// nothing.
func (h *Handlers) requireAccess(w http.ResponseWriter, r *http.Request, instanceID uuid.UUID, required store.Role) (*store.User, bool) {
	user, ok := userFrom(r)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	allowed, err := h.manager.CheckAccess(r.Context(), instanceID, user.ID, required)
	if err != nil {
		h.httpError(w, "Internal error", http.StatusInternalServerError)
		return nil, false
	}
	if !allowed {
		h.httpError(w, "Instance not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}
