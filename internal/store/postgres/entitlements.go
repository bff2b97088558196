package postgres

import (
	"context"
	"fmt"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateEntitlement(ctx context.Context, tx store.DBTransaction, ent *store.Entitlement) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO entitlements (id, instance_id, user_id, role, status, start_at, end_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := executor.ExecContext(ctx, query,
		ent.ID,
		ent.InstanceID,
		ent.UserID,
		ent.Role,
		ent.Status,
		ent.StartAt,
		ent.EndAt,
		ent.CreatedAt,
	)
	if isUniqueViolation(err) {
		// The partial unique index rejects a second owner per instance.
		return store.ErrConflict
	}
	return err
}

// FindAccess returns the highest-ranked active entitlement of the user
// on the instance whose [start_at, end_at) window covers now.
func (s *Store) FindAccess(ctx context.Context, instanceID, userID uuid.UUID, now time.Time) (*store.Entitlement, error) {
	query := `
		SELECT id, instance_id, user_id, role, status, start_at, end_at, created_at
		FROM entitlements
		WHERE instance_id = $1 AND user_id = $2 AND status = 'active'
		  AND start_at <= $3 AND end_at > $3
		ORDER BY CASE role WHEN 'admin' THEN 3 WHEN 'owner' THEN 2 ELSE 1 END DESC
		LIMIT 1
	`

	var e store.Entitlement
	err := s.db.QueryRowContext(ctx, query, instanceID, userID, now).Scan(
		&e.ID,
		&e.InstanceID,
		&e.UserID,
		&e.Role,
		&e.Status,
		&e.StartAt,
		&e.EndAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	return &e, nil
}

// ExpireEntitlements transitions active entitlements whose window has
// closed and returns them for event emission.
func (s *Store) ExpireEntitlements(ctx context.Context, now time.Time) ([]store.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE entitlements
		SET status = 'expired'
		WHERE status = 'active' AND end_at <= $1
		RETURNING id, instance_id, user_id, role, status, start_at, end_at, created_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire entitlements query failed: %w", err)
	}
	defer rows.Close()

	var ents []store.Entitlement
	for rows.Next() {
		var e store.Entitlement
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.UserID, &e.Role, &e.Status, &e.StartAt, &e.EndAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		ents = append(ents, e)
	}
	return ents, rows.Err()
}
