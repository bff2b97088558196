package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// Errors surfaced by the vault.
var (
	ErrNotFound    = errors.New("vault: credential not found")
	ErrScopeDenied = errors.New("vault: scope not granted for credential")
	ErrNotOwner    = errors.New("vault: caller does not hold this credential")
)

// Store is the slice of the database layer the vault needs.
type Store interface {
	InsertCredential(ctx context.Context, cred *store.Credential) error
	GetCredentialByRef(ctx context.Context, ref uuid.UUID) (*store.Credential, error)
	UpdateCredentialSeal(ctx context.Context, ref uuid.UUID, fromVersion int, ciphertext []byte, toVersion int, rotatedAt time.Time) error
	DeleteCredential(ctx context.Context, ref uuid.UUID) error
	ListCredentialsBelowVersion(ctx context.Context, version, limit int) ([]store.Credential, error)
	RecordCredentialAccess(ctx context.Context, access *store.CredentialAccess) error
}

// Vault seals credentials into the store and reveals them on demand.
// Plaintext exists only in memory, inside Store and Reveal calls.
type Vault struct {
	store   Store
	keyring *Keyring
	logger  *slog.Logger
	now     func() time.Time
}

func New(s Store, keyring *Keyring, logger *slog.Logger) *Vault {
	return &Vault{store: s, keyring: keyring, logger: logger, now: time.Now}
}

// Put encrypts a secret and stores it, returning an opaque reference.
// Scopes restrict which components may later reveal it.
func (v *Vault) Put(ctx context.Context, ownerUserID uuid.UUID, subscriberUserID *uuid.UUID, secret []byte, scopes []string) (uuid.UUID, error) {
	if len(secret) == 0 {
		return uuid.Nil, errors.New("vault: empty secret")
	}

	blob, version, err := v.keyring.Seal(secret)
	if err != nil {
		return uuid.Nil, err
	}

	now := v.now().UTC()
	cred := &store.Credential{
		Ref:              uuid.New(),
		OwnerUserID:      ownerUserID,
		SubscriberUserID: subscriberUserID,
		Ciphertext:       blob,
		Scopes:           scopes,
		KeyVersion:       version,
		RotatedAt:        now,
		CreatedAt:        now,
	}
	if err := v.store.InsertCredential(ctx, cred); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store credential: %w", err)
	}

	v.logger.InfoContext(ctx, "credential stored",
		"ref", cred.Ref, "owner", ownerUserID, "scopes", scopes, "key_version", version)
	return cred.Ref, nil
}

// Reveal decrypts a credential for the caller. The caller must be the
// credential's owner or subscriber, and the requesting scope must be
// among the credential's granted scopes. Every reveal is recorded in
// the credential_access trail before the plaintext is handed out; if
// the record cannot be written the reveal fails.
func (v *Vault) Reveal(ctx context.Context, ref, callerUserID uuid.UUID, scope string) ([]byte, error) {
	cred, err := v.store.GetCredentialByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !v.callerHolds(cred, callerUserID) {
		return nil, ErrNotOwner
	}
	if !hasScope(cred.Scopes, scope) {
		return nil, ErrScopeDenied
	}

	plaintext, err := v.keyring.Open(cred.Ciphertext, cred.KeyVersion)
	if err != nil {
		return nil, err
	}

	access := &store.CredentialAccess{
		Ref:          ref,
		OwnerUserID:  cred.OwnerUserID,
		CallerUserID: callerUserID,
		Scope:        scope,
		CreatedAt:    v.now().UTC(),
	}
	if err := v.store.RecordCredentialAccess(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to record credential access: %w", err)
	}

	v.logger.InfoContext(ctx, "credential revealed",
		"ref", ref, "caller", callerUserID, "scope", scope)
	return plaintext, nil
}

// Revoke destroys the credential ciphertext. Owner only; subsequent
// reveals return ErrNotFound. Irreversible.
func (v *Vault) Revoke(ctx context.Context, ref, callerUserID uuid.UUID) error {
	cred, err := v.store.GetCredentialByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if cred.OwnerUserID != callerUserID {
		return ErrNotOwner
	}

	if err := v.store.DeleteCredential(ctx, ref); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	v.logger.InfoContext(ctx, "credential revoked", "ref", ref, "caller", callerUserID)
	return nil
}

// RotateKey switches sealing to a new key version. Existing rows keep
// decrypting under their recorded version until ReencryptSweep migrates
// them.
func (v *Vault) RotateKey(version int) error {
	if err := v.keyring.Activate(version); err != nil {
		return err
	}
	v.logger.Info("vault key rotated", "active_version", version)
	return nil
}

// ReencryptSweep re-seals up to batch credentials still sealed under a
// key older than the active version. Returns how many were migrated.
// The conditional update skips rows touched by a concurrent sweep.
func (v *Vault) ReencryptSweep(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	active := v.keyring.ActiveVersion()

	creds, err := v.store.ListCredentialsBelowVersion(ctx, active, batch)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for i := range creds {
		cred := &creds[i]

		plaintext, err := v.keyring.Open(cred.Ciphertext, cred.KeyVersion)
		if err != nil {
			v.logger.ErrorContext(ctx, "re-encryption skipped undecryptable credential",
				"ref", cred.Ref, "key_version", cred.KeyVersion, "error", err)
			continue
		}

		blob, version, err := v.keyring.Seal(plaintext)
		if err != nil {
			return migrated, err
		}

		err = v.store.UpdateCredentialSeal(ctx, cred.Ref, cred.KeyVersion, blob, version, v.now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return migrated, err
		}
		migrated++
	}

	if migrated > 0 {
		v.logger.InfoContext(ctx, "re-encryption sweep migrated credentials",
			"count", migrated, "active_version", active)
	}
	return migrated, nil
}

func (v *Vault) callerHolds(cred *store.Credential, caller uuid.UUID) bool {
	if cred.OwnerUserID == caller {
		return true
	}
	return cred.SubscriberUserID != nil && *cred.SubscriberUserID == caller
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
