// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateUserRequest is the request body for bootstrapping a user.
type CreateUserRequest struct {
	ExternalIdentity string `json:"external_identity"`
	Locale           string `json:"locale,omitempty"`
}

// CreateUserResponse carries the API key exactly once; only its hash
// is stored.
type CreateUserResponse struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// CreateDefinitionRequest is the request body for registering a
// cluster definition.
type CreateDefinitionRequest struct {
	Slug     string `json:"slug"`
	IsPublic bool   `json:"is_public"`
}

// CreateDefinitionResponse is the response body after registering a
// definition.
type CreateDefinitionResponse struct {
	DefinitionID string `json:"definition_id"`
}

// ReleaseVersionRequest appends a new immutable version. Version must
// be exactly current+1.
type ReleaseVersionRequest struct {
	Version         int             `json:"version"`
	WorkflowPayload json.RawMessage `json:"workflow_payload"`
	Migration       json.RawMessage `json:"migration,omitempty"`
}

// ProvisionRequest is the request body for provisioning an instance.
type ProvisionRequest struct {
	DefinitionID     string            `json:"definition_id"`
	Params           map[string]string `json:"params,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	IdempotencyToken string            `json:"idempotency_token,omitempty"`
}

// ProvisionResponse is the response body after provisioning.
type ProvisionResponse struct {
	InstanceID string `json:"instance_id"`
}

// InstanceResponse represents an instance in API responses.
type InstanceResponse struct {
	ID           string            `json:"id"`
	DefinitionID string            `json:"definition_id"`
	Version      int               `json:"version"`
	Status       string            `json:"status"`
	Params       map[string]string `json:"params,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// GrantRequest is the request body for granting access to an instance.
type GrantRequest struct {
	UserID  string     `json:"user_id"`
	Role    string     `json:"role"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// StoreCredentialRequest is the request body for storing a secret.
type StoreCredentialRequest struct {
	Secret           string   `json:"secret"`
	Scopes           []string `json:"scopes"`
	SubscriberUserID string   `json:"subscriber_user_id,omitempty"`
}

// StoreCredentialResponse returns the opaque reference to the stored
// secret.
type StoreCredentialResponse struct {
	Ref string `json:"ref"`
}

// RevealCredentialRequest is the request body for revealing a secret.
type RevealCredentialRequest struct {
	Scope string `json:"scope"`
}

// RevealCredentialResponse carries the plaintext. Never logged.
type RevealCredentialResponse struct {
	Secret string `json:"secret"`
}

// EnqueueJobRequest is the request body for scheduling a job.
type EnqueueJobRequest struct {
	InstanceID     string          `json:"instance_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// EnqueueJobResponse is the response body after scheduling a job.
type EnqueueJobResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	RunAt      time.Time  `json:"run_at"`
	LastError  *string    `json:"last_error,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ChatMessage is one turn of a completion prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the request body for a model call.
type CompletionRequest struct {
	Model     string        `json:"model,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// CompletionResponse is the gateway's answer.
type CompletionResponse struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations,omitempty"`
	Provider  string   `json:"provider"`
	TokensIn  int      `json:"tokens_in"`
	TokensOut int      `json:"tokens_out"`
	Cached    bool     `json:"cached"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// GetEventsResponse is the response body for the audit trail.
type GetEventsResponse struct {
	Events []EventResponse `json:"events"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
