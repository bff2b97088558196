// Package scheduler runs the durable job dispatch loop. Multiple
// scheduler processes may run against the same database; row locking in
// the store guarantees each due job is claimed by exactly one of them.
//
// Cancellation of jobs for expired instances is eventually consistent
// with the expiry sweep. The gate in dispatch closes the gap: a job
// claimed between expiry and sweep is cancelled before its handler runs,
// so nothing billable executes against an expired instance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds scheduler tuning. Zero values fall back to defaults
// suitable for a single small deployment.
type Config struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // cap for the empty-queue poll backoff
	HeartbeatInterval time.Duration // lease refresh period for running jobs
	LeaseTimeout      time.Duration // claim considered abandoned after this
	MaxAttempts       int
	BackoffBase       time.Duration // retry delay is BackoffBase * 2^(attempts-1)
	SuspendRetryDelay time.Duration // re-check delay for jobs of suspended instances
}

// Store is the slice of the database layer the scheduler needs.
type Store interface {
	ClaimDueJobs(ctx context.Context, claimant string, limit int, now time.Time) ([]store.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	RescheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, errMsg string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	ReclaimExpired(ctx context.Context, lease time.Duration, now time.Time) (int64, error)
	ExtendLease(ctx context.Context, id uuid.UUID, now time.Time) error

	GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ClusterInstance, error)
	AppendEvent(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error
}

// Scheduler claims due jobs and runs their registered handlers.
type Scheduler struct {
	store    Store
	registry *Registry
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	done     chan struct{}
}

func New(s Store, registry *Registry, config Config, logger *slog.Logger) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 1 * time.Minute
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 10 * time.Second
	}
	if config.SuspendRetryDelay <= 0 {
		config.SuspendRetryDelay = 1 * time.Minute
	}

	return &Scheduler{
		store:    s,
		registry: registry,
		config:   config,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Run starts the claim loop. It blocks until the context is cancelled,
// then waits for in-flight handlers to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "id", s.config.ID, "concurrency", s.config.Concurrency)

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)
	currentBackoff := s.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, draining in-flight jobs")
			wg.Wait()
			close(s.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := s.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			jobs, err := s.store.ClaimDueJobs(ctx, s.config.ID, availableSlots, s.now().UTC())
			if err != nil {
				s.logger.Error("claim failed", "error", err)
				continue
			}

			if len(jobs) == 0 {
				currentBackoff = currentBackoff * 2
				if currentBackoff > s.config.MaxBackoff {
					currentBackoff = s.config.MaxBackoff
				}
				continue
			}

			currentBackoff = s.config.PollInterval
			s.logger.Debug("claimed jobs", "count", len(jobs))

			for i := range jobs {
				sem <- struct{}{}
				wg.Add(1)
				go func(job store.Job) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					s.dispatch(ctx, &job)
				}(jobs[i])
			}

			if len(jobs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel closed once the scheduler has fully drained.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// dispatch runs one claimed job through the gate, the handler, and the
// terminal bookkeeping.
func (s *Scheduler) dispatch(ctx context.Context, job *store.Job) {
	tracer := otel.Tracer("scheduler")
	spanCtx, span := tracer.Start(ctx, "dispatch_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", job.Type),
			attribute.String("instance.id", job.InstanceID.String()),
			attribute.Int("job.attempts", job.Attempts),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := s.logger.With("job_id", job.ID, "job_type", job.Type, "instance_id", job.InstanceID)

	if !s.gate(spanCtx, job, log) {
		return
	}

	if err := s.store.MarkRunning(spanCtx, job.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the job between claim and start, someone else owns it.
			log.Warn("job no longer claimed, skipping")
			return
		}
		log.Error("failed to mark job running", "error", err)
		return
	}
	job.Attempts++

	handler, ok := s.registry.Resolve(job.Type)
	if !ok {
		s.fail(spanCtx, job, fmt.Sprintf("no handler registered for type %q", job.Type), log)
		return
	}

	// The handler gets its own deadline bound to the lease so a hung
	// handler cannot outlive its claim. Detached from the poll context:
	// in-flight jobs finish during graceful shutdown.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), s.config.LeaseTimeout)
	defer cancel()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go s.runHeartbeat(heartbeatCtx, job.ID, log)

	err := handler(execCtx, job)
	if err == nil {
		if merr := s.store.MarkSucceeded(execCtx, job.ID); merr != nil {
			log.Error("failed to mark job succeeded", "error", merr)
		}
		log.Info("job succeeded", "attempts", job.Attempts)
		return
	}

	span.RecordError(err)

	if IsPermanent(err) || job.Attempts >= s.config.MaxAttempts {
		s.fail(execCtx, job, err.Error(), log)
		return
	}

	// Retry. The delay grows from the moment of failure, not the
	// original run time, so a slow handler never burns its backoff.
	delay := s.config.BackoffBase * (1 << (job.Attempts - 1))
	runAt := s.now().UTC().Add(delay)
	if rerr := s.store.RescheduleRetry(execCtx, job.ID, runAt, err.Error()); rerr != nil {
		log.Error("failed to reschedule job", "error", rerr)
		return
	}
	log.Warn("job failed, retrying", "attempts", job.Attempts, "retry_in", delay, "error", err)
}

// gate checks the instance before any work runs. Jobs of expired or
// terminated instances are cancelled here even if the expiry sweep has
// not caught up; jobs of suspended instances are pushed back.
func (s *Scheduler) gate(ctx context.Context, job *store.Job, log *slog.Logger) bool {
	inst, err := s.store.GetInstanceByID(ctx, job.InstanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.cancel(ctx, job, "instance not found", log)
			return false
		}
		log.Error("instance lookup failed", "error", err)
		// Leave the job claimed; the lease reclaim returns it to pending.
		return false
	}

	switch inst.Status {
	case store.InstanceStatusActive:
		return true
	case store.InstanceStatusSuspended:
		if err := s.store.RescheduleRetry(ctx, job.ID, s.now().UTC().Add(s.config.SuspendRetryDelay), "instance suspended"); err != nil {
			log.Error("failed to push back suspended job", "error", err)
		}
		return false
	default:
		s.cancel(ctx, job, fmt.Sprintf("instance %s", inst.Status), log)
		return false
	}
}

func (s *Scheduler) cancel(ctx context.Context, job *store.Job, reason string, log *slog.Logger) {
	if err := s.store.MarkCancelled(ctx, job.ID); err != nil {
		log.Error("failed to cancel job", "error", err)
		return
	}
	if err := s.store.AppendEvent(ctx, nil, job.InstanceID, "job.cancelled", map[string]string{
		"job_id": job.ID.String(),
		"type":   job.Type,
		"reason": reason,
	}); err != nil {
		log.Warn("failed to record cancellation", "error", err)
	}
	log.Info("job cancelled", "reason", reason)
}

func (s *Scheduler) fail(ctx context.Context, job *store.Job, errMsg string, log *slog.Logger) {
	if err := s.store.MarkFailed(ctx, job.ID, errMsg); err != nil {
		log.Error("failed to mark job failed", "error", err)
		return
	}
	if err := s.store.AppendEvent(ctx, nil, job.InstanceID, "job.failed", map[string]string{
		"job_id": job.ID.String(),
		"type":   job.Type,
		"error":  errMsg,
	}); err != nil {
		log.Warn("failed to record failure", "error", err)
	}
	log.Error("job failed terminally", "attempts", job.Attempts, "error", errMsg)
}

// runHeartbeat refreshes the lease while a handler is executing so the
// reclaim sweep does not hand the job to another scheduler.
func (s *Scheduler) runHeartbeat(ctx context.Context, jobID uuid.UUID, log *slog.Logger) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.ExtendLease(context.Background(), jobID, s.now().UTC()); err != nil {
				log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// RunReclaim periodically returns jobs with lapsed leases to pending.
// Runs until the context is cancelled.
func (s *Scheduler) RunReclaim(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.store.ReclaimExpired(ctx, s.config.LeaseTimeout, s.now().UTC())
			if err != nil {
				s.logger.Error("lease reclaim failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Warn("reclaimed abandoned jobs", "count", n)
			}
		}
	}
}

// Enqueue inserts a pending job, deduplicating on the idempotency key.
// When a non-terminal job already holds the key, the existing job is
// returned instead of a new one.
func Enqueue(ctx context.Context, db interface {
	InsertJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error
	GetActiveJobByKey(ctx context.Context, key string) (*store.Job, error)
}, job *store.Job) (*store.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.CreatedAt
	}

	err := db.InsertJob(ctx, nil, job)
	if err == nil {
		return job, nil
	}
	if errors.Is(err, store.ErrConflict) && job.IdempotencyKey != "" {
		existing, gerr := db.GetActiveJobByKey(ctx, job.IdempotencyKey)
		if gerr != nil {
			return nil, err
		}
		return existing, nil
	}
	return nil, err
}
