package postgres

import (
	"context"
	"fmt"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	query := `
		INSERT INTO users (id, external_identity, locale, active, api_key_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.ExternalIdentity,
		user.Locale,
		user.Active,
		hashedKey,
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	query := "SELECT id, external_identity, locale, active, created_at, updated_at FROM users WHERE id = $1"

	var u store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID,
		&u.ExternalIdentity,
		&u.Locale,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	return &u, nil
}

func (s *Store) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	query := "SELECT id, external_identity, locale, active, created_at, updated_at FROM users WHERE api_key_hash = $1"

	var u store.User
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&u.ID,
		&u.ExternalIdentity,
		&u.Locale,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	return &u, nil
}

func (s *Store) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
