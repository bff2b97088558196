package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) CreateInstance(ctx context.Context, tx store.DBTransaction, inst *store.ClusterInstance) error {
	executor := s.getExecutor(tx)

	params, err := json.Marshal(inst.Params)
	if err != nil {
		return fmt.Errorf("failed to encode instance params: %w", err)
	}

	query := `
		INSERT INTO cluster_instances
			(id, definition_id, version, owner_user_id, subscriber_user_id, status, params, expires_at, idempotency_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err = executor.ExecContext(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.Version,
		inst.OwnerUserID,
		inst.SubscriberUserID,
		inst.Status,
		params,
		inst.ExpiresAt,
		inst.IdempotencyToken,
		inst.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

const instanceColumns = `id, definition_id, version, owner_user_id, subscriber_user_id, status, params, expires_at, idempotency_token, created_at, updated_at`

func (s *Store) scanInstance(row *sql.Row) (*store.ClusterInstance, error) {
	var inst store.ClusterInstance
	var params []byte

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Version,
		&inst.OwnerUserID,
		&inst.SubscriberUserID,
		&inst.Status,
		&params,
		&inst.ExpiresAt,
		&inst.IdempotencyToken,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &inst.Params); err != nil {
			return nil, fmt.Errorf("failed to decode instance params: %w", err)
		}
	}

	return &inst, nil
}

func (s *Store) GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ClusterInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM cluster_instances WHERE id = $1", instanceColumns)
	return s.scanInstance(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetInstanceByToken(ctx context.Context, token string) (*store.ClusterInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM cluster_instances WHERE idempotency_token = $1", instanceColumns)
	return s.scanInstance(s.db.QueryRowContext(ctx, query, token))
}

// TransitionInstance is the only mutation path for instance status.
// The WHERE clause makes the transition conditional; a zero row count
// means the instance was not in any of the expected source states.
func (s *Store) TransitionInstance(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from []store.InstanceStatus, to store.InstanceStatus) error {
	executor := s.getExecutor(tx)

	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	res, err := executor.ExecContext(ctx, `
		UPDATE cluster_instances
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(states))
	if err != nil {
		return fmt.Errorf("failed to transition instance %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	return nil
}

// ExpireInstances moves active/suspended instances past their expiry to
// expired and returns the affected IDs.
func (s *Store) ExpireInstances(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE cluster_instances
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('active', 'suspended') AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire instances query failed: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
