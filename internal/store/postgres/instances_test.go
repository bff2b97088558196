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

func instanceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "definition_id", "version", "owner_user_id", "subscriber_user_id",
		"status", "params", "expires_at", "idempotency_token", "created_at", "updated_at",
	})
}

func TestGetInstanceByID_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM cluster_instances WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(instanceRows().AddRow(
			id, uuid.New(), 1, uuid.New(), nil,
			"active", []byte(`{"daily_summary_hour":"9"}`), nil, nil, now, now))

	inst, err := s.GetInstanceByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInstanceByID failed: %v", err)
	}
	if inst.Status != store.InstanceStatusActive {
		t.Errorf("got status %s, want active", inst.Status)
	}
	if inst.Params["daily_summary_hour"] != "9" {
		t.Errorf("params not decoded: %v", inst.Params)
	}
}

func TestGetInstanceByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM cluster_instances`).
		WillReturnRows(instanceRows())

	_, err := s.GetInstanceByID(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionInstance_Conflict(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE cluster_instances`).
		WithArgs("active", id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TransitionInstance(context.Background(), nil, id,
		[]store.InstanceStatus{store.InstanceStatusProvisioning}, store.InstanceStatusActive)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestExpireInstances_ReturnsIDs(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id1, id2 := uuid.New(), uuid.New()
	mock.ExpectQuery(`UPDATE cluster_instances .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1).AddRow(id2))

	ids, err := s.ExpireInstances(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ExpireInstances failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}
}

func TestCreateEntitlement_SecondOwnerRejected(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO entitlements`).
		WillReturnError(errUnique())

	err := s.CreateEntitlement(context.Background(), nil, &store.Entitlement{
		ID:         uuid.New(),
		InstanceID: uuid.New(),
		UserID:     uuid.New(),
		Role:       store.RoleOwner,
		Status:     store.EntitlementStatusActive,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate owner, got %v", err)
	}
}

func TestFindAccess_WindowAndRankQuery(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	instanceID, userID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM entitlements WHERE instance_id = \$1 AND user_id = \$2 AND status = 'active' AND start_at <= \$3 AND end_at > \$3 ORDER BY CASE role .* LIMIT 1`).
		WithArgs(instanceID, userID, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "instance_id", "user_id", "role", "status", "start_at", "end_at", "created_at",
		}).AddRow(uuid.New(), instanceID, userID, "owner", "active", now.Add(-time.Hour), now.Add(time.Hour), now))

	ent, err := s.FindAccess(context.Background(), instanceID, userID, now)
	if err != nil {
		t.Fatalf("FindAccess failed: %v", err)
	}
	if ent.Role != store.RoleOwner {
		t.Errorf("got role %s, want owner", ent.Role)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
