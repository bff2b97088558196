package postgres

import (
	"context"
	"fmt"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, instance_id, type, payload, run_at, status, attempts, idempotency_key, claimed_by, claimed_at, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var j store.Job
	err := row.Scan(
		&j.ID,
		&j.InstanceID,
		&j.Type,
		&j.Payload,
		&j.RunAt,
		&j.Status,
		&j.Attempts,
		&j.IdempotencyKey,
		&j.ClaimedBy,
		&j.ClaimedAt,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &j, nil
}

// InsertJob inserts a pending job. The partial unique index on
// idempotency_key (over non-terminal statuses) turns a concurrent
// duplicate into ErrConflict, which Enqueue resolves to the winner.
func (s *Store) InsertJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO jobs (id, instance_id, type, payload, run_at, status, attempts, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`

	_, err := executor.ExecContext(ctx, query,
		job.ID,
		job.InstanceID,
		job.Type,
		job.Payload,
		job.RunAt,
		job.Status,
		job.Attempts,
		job.IdempotencyKey,
		job.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

// GetActiveJobByKey returns the non-terminal job holding the key.
func (s *Store) GetActiveJobByKey(ctx context.Context, key string) (*store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE idempotency_key = $1 AND status IN ('pending', 'claimed', 'running')
	`, jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, query, key))
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1", jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, query, id))
}

// ClaimDueJobs claims up to limit due pending jobs atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Dispatch order is deterministic:
// run_at ascending, then id ascending as the tie-break. Returns nil
// when nothing is due.
func (s *Store) ClaimDueJobs(ctx context.Context, claimant string, limit int, now time.Time) ([]store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		WHERE status = 'pending' AND run_at <= $1
		ORDER BY run_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, jobColumns)

	rows, err := tx.QueryContext(ctx, selectQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	var ids []uuid.UUID
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		jobs = append(jobs, *j)
		ids = append(ids, j.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows error: %w", err)
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'claimed', claimed_by = $1, claimed_at = $2, updated_at = NOW()
		WHERE id = ANY($3)
	`, claimant, now, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range jobs {
		jobs[i].Status = store.JobStatusClaimed
		jobs[i].ClaimedBy = &claimant
		at := now
		jobs[i].ClaimedAt = &at
	}

	return jobs, nil
}

// MarkRunning transitions claimed -> running and counts the attempt.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'succeeded', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('claimed', 'running')
	`, id, errMsg)
	return err
}

// RescheduleRetry reverts the job to pending with a backoff-adjusted
// run_at. The attempt counter already advanced in MarkRunning.
func (s *Store) RescheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', run_at = $2, last_error = $3,
		    claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('claimed', 'running')
	`, id, runAt, errMsg)
	return err
}

// MarkCancelled transitions pending/claimed -> cancelled. Cancelling an
// already-terminal job is a no-op so cancellation stays idempotent; a
// running job cannot be forcibly cancelled and returns ErrConflict.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	job, err := s.GetJobByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	return store.ErrConflict
}

func (s *Store) CancelPendingForInstance(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID) (int64, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE instance_id = $1 AND status = 'pending'
	`, instanceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReclaimExpired reverts claimed/running jobs whose lease lapsed back
// to pending so another scheduler can make progress. Only jobs still
// in 'claimed' count the attempt here; 'running' jobs already counted
// it in MarkRunning, so one crash burns one attempt, not two.
func (s *Store) ReclaimExpired(ctx context.Context, lease time.Duration, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL,
		    attempts = attempts + CASE WHEN status = 'claimed' THEN 1 ELSE 0 END,
		    updated_at = NOW()
		WHERE status IN ('claimed', 'running') AND claimed_at <= $1
	`, now.Add(-lease))
	if err != nil {
		return 0, fmt.Errorf("reclaim update failed: %w", err)
	}
	return res.RowsAffected()
}

// ExtendLease refreshes claimed_at while a handler is still working.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET claimed_at = $2
		WHERE id = $1 AND status IN ('claimed', 'running')
	`, id, now)
	return err
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = 'pending'").Scan(&count)
	return count, err
}
