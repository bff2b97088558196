package postgres

import (
	"context"
	"fmt"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) InsertCredential(ctx context.Context, cred *store.Credential) error {
	query := `
		INSERT INTO credentials (ref, owner_user_id, subscriber_user_id, ciphertext, scopes, key_version, rotated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.Ref,
		cred.OwnerUserID,
		cred.SubscriberUserID,
		cred.Ciphertext,
		pq.Array(cred.Scopes),
		cred.KeyVersion,
		cred.RotatedAt,
		cred.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetCredentialByRef(ctx context.Context, ref uuid.UUID) (*store.Credential, error) {
	query := `
		SELECT ref, owner_user_id, subscriber_user_id, ciphertext, scopes, key_version, rotated_at, created_at
		FROM credentials
		WHERE ref = $1
	`

	var c store.Credential
	err := s.db.QueryRowContext(ctx, query, ref).Scan(
		&c.Ref,
		&c.OwnerUserID,
		&c.SubscriberUserID,
		&c.Ciphertext,
		pq.Array(&c.Scopes),
		&c.KeyVersion,
		&c.RotatedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}

	return &c, nil
}

// UpdateCredentialSeal swaps ciphertext after re-encryption. The write
// is conditional on the recorded key version so a concurrent rotation
// of the same row cannot be clobbered.
func (s *Store) UpdateCredentialSeal(ctx context.Context, ref uuid.UUID, fromVersion int, ciphertext []byte, toVersion int, rotatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET ciphertext = $3, key_version = $4, rotated_at = $5
		WHERE ref = $1 AND key_version = $2
	`, ref, fromVersion, ciphertext, toVersion, rotatedAt)
	if err != nil {
		return fmt.Errorf("failed to update credential seal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, ref uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE ref = $1", ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordCredentialAccess appends one reveal to the audit trail. The
// table has no FK to credentials so the history survives revocation.
func (s *Store) RecordCredentialAccess(ctx context.Context, access *store.CredentialAccess) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_access (ref, owner_user_id, caller_user_id, scope, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, access.Ref, access.OwnerUserID, access.CallerUserID, access.Scope, access.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record credential access: %w", err)
	}
	return nil
}

func (s *Store) ListCredentialsBelowVersion(ctx context.Context, version, limit int) ([]store.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, owner_user_id, subscriber_user_id, ciphertext, scopes, key_version, rotated_at, created_at
		FROM credentials
		WHERE key_version < $1
		ORDER BY key_version ASC, created_at ASC
		LIMIT $2
	`, version, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []store.Credential
	for rows.Next() {
		var c store.Credential
		if err := rows.Scan(&c.Ref, &c.OwnerUserID, &c.SubscriberUserID, &c.Ciphertext, pq.Array(&c.Scopes), &c.KeyVersion, &c.RotatedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
