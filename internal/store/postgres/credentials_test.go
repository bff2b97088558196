package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"clusterplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func credentialRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"ref", "owner_user_id", "subscriber_user_id", "ciphertext",
		"scopes", "key_version", "rotated_at", "created_at",
	})
}

func TestGetCredentialByRef_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM credentials`).
		WillReturnRows(credentialRows())

	_, err := s.GetCredentialByRef(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCredentialSeal_ConditionalOnVersion(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ref := uuid.New()
	rotated := time.Now()

	mock.ExpectExec(`UPDATE credentials`).
		WithArgs(ref, 1, []byte("sealed"), 2, rotated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateCredentialSeal(context.Background(), ref, 1, []byte("sealed"), 2, rotated); err != nil {
		t.Fatalf("UpdateCredentialSeal failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateCredentialSeal_StaleVersionConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE credentials`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateCredentialSeal(context.Background(), uuid.New(), 1, []byte("x"), 2, time.Now())
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestRecordCredentialAccess_InsertsAuditRow(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	access := &store.CredentialAccess{
		Ref:          uuid.New(),
		OwnerUserID:  uuid.New(),
		CallerUserID: uuid.New(),
		Scope:        "llm",
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec(`INSERT INTO credential_access`).
		WithArgs(access.Ref, access.OwnerUserID, access.CallerUserID, access.Scope, access.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.RecordCredentialAccess(context.Background(), access); err != nil {
		t.Fatalf("RecordCredentialAccess failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteCredential_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`DELETE FROM credentials`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteCredential(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
