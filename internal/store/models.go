// Package store contains the database layer for clusterplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a tenant user. Users are created on first contact
// and never deleted, only deactivated.
type User struct {
	ID               uuid.UUID
	ExternalIdentity string
	Locale           string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ClusterDefinition is the immutable identity of a workflow bundle.
// Versions are append-only; CurrentVersion points at the latest release.
type ClusterDefinition struct {
	ID             uuid.UUID
	Slug           string
	CurrentVersion int
	IsPublic       bool
	CreatedAt      time.Time
}

// ClusterVersion is a released, immutable version of a definition.
type ClusterVersion struct {
	ID              uuid.UUID
	DefinitionID    uuid.UUID
	Version         int
	WorkflowPayload json.RawMessage
	Migration       json.RawMessage
	ReleasedAt      time.Time
}

// InstanceStatus represents the lifecycle state of a cluster instance.
type InstanceStatus string

const (
	InstanceStatusProvisioning InstanceStatus = "provisioning"
	InstanceStatusActive       InstanceStatus = "active"
	InstanceStatusSuspended    InstanceStatus = "suspended"
	InstanceStatusExpired      InstanceStatus = "expired"
	InstanceStatusTerminated   InstanceStatus = "terminated"
)

// Terminal reports whether no further status transition is permitted.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusTerminated
}

// ClusterInstance is an isolated, parameterized deployment of a
// definition for one owner (and optional subscriber). All mutation
// goes through the entitlement manager.
type ClusterInstance struct {
	ID               uuid.UUID
	DefinitionID     uuid.UUID
	Version          int
	OwnerUserID      uuid.UUID
	SubscriberUserID *uuid.UUID
	Status           InstanceStatus
	Params           map[string]string
	ExpiresAt        *time.Time
	// IdempotencyToken dedupes provisioning calls retried by webhooks.
	IdempotencyToken *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Role is the access level an entitlement grants over an instance.
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
)

// Rank orders roles for superiority checks: admin > owner > subscriber.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 2
	case RoleSubscriber:
		return 1
	}
	return 0
}

// EntitlementStatus represents the state of an entitlement.
type EntitlementStatus string

const (
	EntitlementStatusActive  EntitlementStatus = "active"
	EntitlementStatusExpired EntitlementStatus = "expired"
	EntitlementStatusRevoked EntitlementStatus = "revoked"
)

// Entitlement is a time-bounded grant of a role over an instance.
// At most one owner entitlement may exist per instance.
type Entitlement struct {
	ID         uuid.UUID
	InstanceID uuid.UUID
	UserID     uuid.UUID
	Role       Role
	Status     EntitlementStatus
	StartAt    time.Time
	EndAt      time.Time
	CreatedAt  time.Time
}

// Credential holds an encrypted third-party secret. Plaintext is never
// persisted; KeyVersion identifies the key that sealed Ciphertext.
type Credential struct {
	Ref              uuid.UUID
	OwnerUserID      uuid.UUID
	SubscriberUserID *uuid.UUID
	Ciphertext       []byte
	Scopes           []string
	KeyVersion       int
	RotatedAt        time.Time
	CreatedAt        time.Time
}

// CredentialAccess is one row of the append-only reveal audit trail.
// Keyed by the credential owner, not an instance, and carries no
// foreign key so the history outlives revocation.
type CredentialAccess struct {
	ID           int64
	Ref          uuid.UUID
	OwnerUserID  uuid.UUID
	CallerUserID uuid.UUID
	Scope        string
	CreatedAt    time.Time
}

// JobStatus represents the state of a scheduled job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transition.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a durable unit of time-triggered work. The payload is opaque
// to the scheduler; handlers are registered per Type.
type Job struct {
	ID             uuid.UUID
	InstanceID     uuid.UUID
	Type           string
	Payload        json.RawMessage
	RunAt          time.Time
	Status         JobStatus
	Attempts       int
	IdempotencyKey string
	ClaimedBy      *string
	ClaimedAt      *time.Time
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LLMRequest is one row of the append-only model-call audit trail.
type LLMRequest struct {
	ID         int64
	InstanceID uuid.UUID
	UserID     uuid.UUID
	Provider   string
	PromptHash string
	TokensIn   int
	TokensOut  int
	Cost       float64
	Status     string
	CreatedAt  time.Time
}

// LLM request statuses.
const (
	LLMStatusSucceeded     = "succeeded"
	LLMStatusCacheHit      = "cache_hit"
	LLMStatusFailed        = "failed"
	LLMStatusQuotaExceeded = "quota_exceeded"
)

// Event is the append-only record of what happened, per instance.
type Event struct {
	ID         int64
	InstanceID uuid.UUID
	Type       string
	Payload    json.RawMessage
	CreatedAt  time.Time
}
