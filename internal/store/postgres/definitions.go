package postgres

import (
	"context"
	"fmt"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateDefinition(ctx context.Context, def *store.ClusterDefinition) error {
	query := `
		INSERT INTO cluster_definitions (id, slug, current_version, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		def.ID,
		def.Slug,
		def.CurrentVersion,
		def.IsPublic,
		def.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetDefinitionByID(ctx context.Context, id uuid.UUID) (*store.ClusterDefinition, error) {
	query := "SELECT id, slug, current_version, is_public, created_at FROM cluster_definitions WHERE id = $1"

	var d store.ClusterDefinition
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID,
		&d.Slug,
		&d.CurrentVersion,
		&d.IsPublic,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	return &d, nil
}

// ReleaseVersion appends a version row and bumps current_version.
// The conditional update enforces monotonic, gapless versions.
func (s *Store) ReleaseVersion(ctx context.Context, tx store.DBTransaction, v *store.ClusterVersion) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE cluster_definitions
		SET current_version = $1
		WHERE id = $2 AND current_version = $1 - 1
	`, v.Version, v.DefinitionID)
	if err != nil {
		return fmt.Errorf("failed to bump definition version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}

	_, err = executor.ExecContext(ctx, `
		INSERT INTO cluster_versions (id, definition_id, version, workflow_payload, migration, released_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.DefinitionID, v.Version, v.WorkflowPayload, v.Migration, v.ReleasedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}
