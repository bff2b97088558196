// Package entitlement is the authoritative registry of cluster
// instances and access rights. All other components consult it before
// acting on tenant data; instance and entitlement rows are mutated
// nowhere else.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// Errors surfaced by the manager.
var (
	ErrDefinitionNotFound  = errors.New("entitlement: definition not found")
	ErrDefinitionNotPublic = errors.New("entitlement: definition is not public")
	ErrDuplicateOwner      = errors.New("entitlement: instance already has an owner")
	ErrInstanceNotFound    = errors.New("entitlement: instance not found")
	ErrInstanceTerminal    = errors.New("entitlement: instance is terminated")
)

// openEnded is the entitlement end for grants without an explicit
// window. Far enough that it never matters, close enough to fit any
// timestamp column.
var openEnded = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is the slice of the database layer the manager needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)

	GetDefinitionByID(ctx context.Context, id uuid.UUID) (*store.ClusterDefinition, error)

	CreateInstance(ctx context.Context, tx store.DBTransaction, inst *store.ClusterInstance) error
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ClusterInstance, error)
	GetInstanceByToken(ctx context.Context, token string) (*store.ClusterInstance, error)
	TransitionInstance(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from []store.InstanceStatus, to store.InstanceStatus) error
	ExpireInstances(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	CreateEntitlement(ctx context.Context, tx store.DBTransaction, ent *store.Entitlement) error
	FindAccess(ctx context.Context, instanceID, userID uuid.UUID, now time.Time) (*store.Entitlement, error)
	ExpireEntitlements(ctx context.Context, now time.Time) ([]store.Entitlement, error)

	CancelPendingForInstance(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID) (int64, error)
	AppendEvent(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error
}

// Manager owns ClusterInstance and Entitlement mutation.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a manager. The clock is injectable for tests.
func New(s Store, logger *slog.Logger) *Manager {
	return &Manager{store: s, logger: logger, now: time.Now}
}

// ProvisionRequest carries everything needed to create an instance.
// IdempotencyToken dedupes webhook retries: re-posting the same token
// returns the instance created by the first call.
type ProvisionRequest struct {
	DefinitionID     uuid.UUID
	OwnerUserID      uuid.UUID
	Params           map[string]string
	ExpiresAt        *time.Time
	IdempotencyToken string
}

// Provision creates a ClusterInstance in provisioning, grants the
// owner entitlement, and activates the instance.
func (m *Manager) Provision(ctx context.Context, req ProvisionRequest) (uuid.UUID, error) {
	if req.IdempotencyToken != "" {
		if existing, err := m.store.GetInstanceByToken(ctx, req.IdempotencyToken); err == nil {
			return existing.ID, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, err
		}
	}

	def, err := m.store.GetDefinitionByID(ctx, req.DefinitionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, ErrDefinitionNotFound
		}
		return uuid.Nil, err
	}
	if !def.IsPublic {
		return uuid.Nil, ErrDefinitionNotPublic
	}

	now := m.now().UTC()
	inst := &store.ClusterInstance{
		ID:           uuid.New(),
		DefinitionID: def.ID,
		Version:      def.CurrentVersion,
		OwnerUserID:  req.OwnerUserID,
		Status:       store.InstanceStatusProvisioning,
		Params:       req.Params,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
	}
	if req.IdempotencyToken != "" {
		tok := req.IdempotencyToken
		inst.IdempotencyToken = &tok
	}

	endAt := openEnded
	if req.ExpiresAt != nil {
		endAt = *req.ExpiresAt
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	if err := m.store.CreateInstance(ctx, tx, inst); err != nil {
		if errors.Is(err, store.ErrConflict) && req.IdempotencyToken != "" {
			// Lost a race with a concurrent retry of the same token.
			tx.Rollback()
			existing, gerr := m.store.GetInstanceByToken(ctx, req.IdempotencyToken)
			if gerr != nil {
				return uuid.Nil, gerr
			}
			return existing.ID, nil
		}
		return uuid.Nil, fmt.Errorf("failed to create instance: %w", err)
	}

	if err := m.store.CreateEntitlement(ctx, tx, &store.Entitlement{
		ID:         uuid.New(),
		InstanceID: inst.ID,
		UserID:     req.OwnerUserID,
		Role:       store.RoleOwner,
		Status:     store.EntitlementStatusActive,
		StartAt:    now,
		EndAt:      endAt,
		CreatedAt:  now,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create owner entitlement: %w", err)
	}

	if err := m.store.TransitionInstance(ctx, tx, inst.ID,
		[]store.InstanceStatus{store.InstanceStatusProvisioning}, store.InstanceStatusActive); err != nil {
		return uuid.Nil, err
	}

	if err := m.store.AppendEvent(ctx, tx, inst.ID, "instance.provisioned", map[string]string{
		"definition_id": def.ID.String(),
		"owner_user_id": req.OwnerUserID.String(),
	}); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}

	m.logger.InfoContext(ctx, "instance provisioned",
		"instance_id", inst.ID, "definition", def.Slug, "owner", req.OwnerUserID)
	return inst.ID, nil
}

// Grant creates an entitlement on an instance. Granting a second owner
// fails with ErrDuplicateOwner; the instance must not be terminated.
func (m *Manager) Grant(ctx context.Context, instanceID, userID uuid.UUID, role store.Role, startAt, endAt time.Time) error {
	inst, err := m.store.GetInstanceByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInstanceNotFound
		}
		return err
	}
	if inst.Status.Terminal() {
		return ErrInstanceTerminal
	}

	now := m.now().UTC()
	if startAt.IsZero() {
		startAt = now
	}
	if endAt.IsZero() {
		endAt = openEnded
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = m.store.CreateEntitlement(ctx, tx, &store.Entitlement{
		ID:         uuid.New(),
		InstanceID: instanceID,
		UserID:     userID,
		Role:       role,
		Status:     store.EntitlementStatusActive,
		StartAt:    startAt,
		EndAt:      endAt,
		CreatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) && role == store.RoleOwner {
			return ErrDuplicateOwner
		}
		return err
	}

	if err := m.store.AppendEvent(ctx, tx, instanceID, "entitlement.granted", map[string]string{
		"user_id": userID.String(),
		"role":    string(role),
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// CheckAccess reports whether the user holds an active entitlement of
// matching or superior role on the instance, valid at the current time.
func (m *Manager) CheckAccess(ctx context.Context, instanceID, userID uuid.UUID, required store.Role) (bool, error) {
	ent, err := m.store.FindAccess(ctx, instanceID, userID, m.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ent.Role.Rank() >= required.Rank(), nil
}

// Suspend pauses an active instance.
func (m *Manager) Suspend(ctx context.Context, instanceID uuid.UUID) error {
	return m.transition(ctx, instanceID,
		[]store.InstanceStatus{store.InstanceStatusActive},
		store.InstanceStatusSuspended, "instance.suspended")
}

// Resume reactivates a suspended instance.
func (m *Manager) Resume(ctx context.Context, instanceID uuid.UUID) error {
	return m.transition(ctx, instanceID,
		[]store.InstanceStatus{store.InstanceStatusSuspended},
		store.InstanceStatusActive, "instance.resumed")
}

// Terminate moves an instance to its terminal state from anywhere and
// cancels its pending jobs. Idempotent: terminating a terminated
// instance is a no-op.
func (m *Manager) Terminate(ctx context.Context, instanceID uuid.UUID) error {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = m.store.TransitionInstance(ctx, tx, instanceID,
		[]store.InstanceStatus{
			store.InstanceStatusProvisioning,
			store.InstanceStatusActive,
			store.InstanceStatusSuspended,
			store.InstanceStatusExpired,
		}, store.InstanceStatusTerminated)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			inst, gerr := m.store.GetInstanceByID(ctx, instanceID)
			if gerr != nil {
				return gerr
			}
			if inst.Status.Terminal() {
				return nil
			}
		}
		return err
	}

	if _, err := m.store.CancelPendingForInstance(ctx, tx, instanceID); err != nil {
		return err
	}
	if err := m.store.AppendEvent(ctx, tx, instanceID, "instance.terminated", nil); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *Manager) transition(ctx context.Context, instanceID uuid.UUID, from []store.InstanceStatus, to store.InstanceStatus, eventType string) error {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.store.TransitionInstance(ctx, tx, instanceID, from, to); err != nil {
		return err
	}
	if err := m.store.AppendEvent(ctx, tx, instanceID, eventType, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ExpireSweep expires entitlements and instances whose window closed
// and cancels pending jobs of expired instances. Consistency between
// "instance expired" and "jobs cancelled" is eventual, bounded by the
// sweep interval; the scheduler's claim-time gate covers the window
// in between.
func (m *Manager) ExpireSweep(ctx context.Context) error {
	now := m.now().UTC()

	ents, err := m.store.ExpireEntitlements(ctx, now)
	if err != nil {
		return fmt.Errorf("entitlement expiry failed: %w", err)
	}
	for _, e := range ents {
		if err := m.store.AppendEvent(ctx, nil, e.InstanceID, "entitlement.expired", map[string]string{
			"user_id": e.UserID.String(),
			"role":    string(e.Role),
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to record entitlement expiry", "error", err)
		}
	}

	ids, err := m.store.ExpireInstances(ctx, now)
	if err != nil {
		return fmt.Errorf("instance expiry failed: %w", err)
	}
	for _, id := range ids {
		cancelled, err := m.store.CancelPendingForInstance(ctx, nil, id)
		if err != nil {
			m.logger.WarnContext(ctx, "failed to cancel jobs for expired instance",
				"instance_id", id, "error", err)
			continue
		}
		if err := m.store.AppendEvent(ctx, nil, id, "instance.expired", map[string]int64{
			"cancelled_jobs": cancelled,
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to record instance expiry", "error", err)
		}
	}

	if len(ents) > 0 || len(ids) > 0 {
		m.logger.InfoContext(ctx, "expiry sweep completed",
			"entitlements", len(ents), "instances", len(ids))
	}
	return nil
}

// RunExpiry runs ExpireSweep on the given interval until the context
// is cancelled.
func (m *Manager) RunExpiry(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.ExpireSweep(ctx); err != nil {
				m.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}
