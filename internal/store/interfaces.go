package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Shared store errors. Postgres driver errors are mapped onto these so
// callers never depend on driver error codes.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// UserStore handles tenant user rows.
type UserStore interface {
	// CreateUser inserts a new user with its API key hash.
	CreateUser(ctx context.Context, user *User, hashedKey string) error

	// GetUserByID returns a user by its ID.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByAPIKeyHash returns a user by its API key hash.
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error)

	// DeactivateUser marks a user inactive. Users are never deleted.
	DeactivateUser(ctx context.Context, id uuid.UUID) error
}

// DefinitionStore handles cluster definitions and their append-only
// version history.
type DefinitionStore interface {
	CreateDefinition(ctx context.Context, def *ClusterDefinition) error
	GetDefinitionByID(ctx context.Context, id uuid.UUID) (*ClusterDefinition, error)

	// ReleaseVersion appends a new version and bumps the definition's
	// current version in one transaction. The version number must be
	// current+1; anything else returns ErrConflict.
	ReleaseVersion(ctx context.Context, tx DBTransaction, v *ClusterVersion) error
}

// InstanceStore handles cluster instance rows. Status transitions are
// conditional updates: the write succeeds only when the row is still in
// one of the expected source states.
type InstanceStore interface {
	CreateInstance(ctx context.Context, tx DBTransaction, inst *ClusterInstance) error
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*ClusterInstance, error)
	GetInstanceByToken(ctx context.Context, token string) (*ClusterInstance, error)

	// TransitionInstance moves an instance from one of the given states
	// to the target state. Returns ErrConflict when the row was not in
	// any of the expected states.
	TransitionInstance(ctx context.Context, tx DBTransaction, id uuid.UUID, from []InstanceStatus, to InstanceStatus) error

	// ExpireInstances transitions instances past their expiry to
	// expired and returns their IDs.
	ExpireInstances(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// EntitlementStore handles entitlement rows.
type EntitlementStore interface {
	CreateEntitlement(ctx context.Context, tx DBTransaction, ent *Entitlement) error

	// FindAccess returns the highest-ranked entitlement of the user on
	// the instance that is active and whose window covers now.
	// ErrNotFound when no such entitlement exists.
	FindAccess(ctx context.Context, instanceID, userID uuid.UUID, now time.Time) (*Entitlement, error)

	// ExpireEntitlements transitions active entitlements whose window
	// has closed and returns them.
	ExpireEntitlements(ctx context.Context, now time.Time) ([]Entitlement, error)
}

// JobStore owns all job state transitions. Claims use the store's
// native row locking so at most one scheduler wins each job.
type JobStore interface {
	// InsertJob inserts a pending job. ErrConflict when a non-terminal
	// job already holds the idempotency key.
	InsertJob(ctx context.Context, tx DBTransaction, job *Job) error

	// GetActiveJobByKey returns the non-terminal job holding the key.
	GetActiveJobByKey(ctx context.Context, key string) (*Job, error)

	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// ClaimDueJobs atomically claims up to limit due pending jobs for
	// the named claimant, ordered by (run_at, id). Concurrent claimants
	// skip rows locked by each other.
	ClaimDueJobs(ctx context.Context, claimant string, limit int, now time.Time) ([]Job, error)

	// MarkRunning transitions claimed -> running.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// MarkSucceeded transitions running -> succeeded.
	MarkSucceeded(ctx context.Context, id uuid.UUID) error

	// MarkFailed terminally fails the job and records the error.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// RescheduleRetry reverts the job to pending with a new run_at,
	// keeping the attempt count.
	RescheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, errMsg string) error

	// MarkCancelled transitions pending/claimed -> cancelled. Returns
	// ErrConflict when the job is running; no-op when already terminal.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// CancelPendingForInstance cancels all pending jobs of an instance
	// and returns how many rows changed.
	CancelPendingForInstance(ctx context.Context, tx DBTransaction, instanceID uuid.UUID) (int64, error)

	// ReclaimExpired reverts claimed/running jobs whose lease lapsed
	// back to pending. Attempts advance only for jobs still claimed;
	// running jobs already counted theirs in MarkRunning. Returns rows
	// changed.
	ReclaimExpired(ctx context.Context, lease time.Duration, now time.Time) (int64, error)

	// ExtendLease refreshes claimed_at for a held job (heartbeat).
	ExtendLease(ctx context.Context, id uuid.UUID, now time.Time) error

	// CountPending returns the pending-job depth for metrics.
	CountPending(ctx context.Context) (int64, error)
}

// CredentialStore owns credential ciphertext and key-version rows.
type CredentialStore interface {
	InsertCredential(ctx context.Context, cred *Credential) error
	GetCredentialByRef(ctx context.Context, ref uuid.UUID) (*Credential, error)

	// UpdateCredentialSeal swaps ciphertext and key version after a
	// re-encryption pass. Conditional on the recorded version to avoid
	// clobbering a concurrent rotation.
	UpdateCredentialSeal(ctx context.Context, ref uuid.UUID, fromVersion int, ciphertext []byte, toVersion int, rotatedAt time.Time) error

	// DeleteCredential irreversibly destroys the ciphertext.
	DeleteCredential(ctx context.Context, ref uuid.UUID) error

	// ListCredentialsBelowVersion pages credentials sealed under a key
	// older than version, for the background re-encryption sweep.
	ListCredentialsBelowVersion(ctx context.Context, version, limit int) ([]Credential, error)

	// RecordCredentialAccess appends one successful reveal to the
	// access audit trail. Rows are never updated or deleted.
	RecordCredentialAccess(ctx context.Context, access *CredentialAccess) error
}

// EventStore appends to the audit trail. Events are never updated.
type EventStore interface {
	AppendEvent(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error
	ListEvents(ctx context.Context, instanceID uuid.UUID, limit int) ([]Event, error)
}

// UsageStore appends to the LLM request audit trail.
type UsageStore interface {
	RecordLLMRequest(ctx context.Context, rec *LLMRequest) error
}
