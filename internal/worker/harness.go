package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
)

// Unit is one independently retryable piece of a job: a chapter, a slide,
// an audio segment.
type Unit struct {
	Index int
	Label string
	Ref   string
}

// Plan is what a capability derives from a task payload before any unit
// runs: the unit list plus whatever decoded state RunUnit needs.
type Plan struct {
	Units []Unit
	// AllOrNothing makes any permanent unit failure fail the whole job.
	// Default policy: one successful unit is enough to complete.
	AllOrNothing bool
	// Data carries the capability's decoded payload, opaque to the harness.
	Data any
}

// UnitResult is the successful output of one unit.
type UnitResult struct {
	Index  int             `json:"index"`
	Label  string          `json:"label,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Capability executes the units of one kind of job. Implementations are
// stateless; per-job state lives in the Plan.
type Capability interface {
	Name() string
	TaskType() string
	// Plan decodes the payload and enumerates the job's units. An error
	// here is a whole-job failure (the source could not be loaded at all).
	Plan(ctx context.Context, payload []byte) (*Plan, error)
	// RunUnit executes one unit. Errors are retried by the harness up to
	// its bounded attempt budget, then recorded as a unit failure.
	RunUnit(ctx context.Context, plan *Plan, unit Unit) (json.RawMessage, error)
	// Assemble combines unit results into the job's result payload.
	Assemble(plan *Plan, results []UnitResult) (json.RawMessage, error)
}

// RetryPolicy bounds per-unit retries inside one job execution.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Runner is the harness every worker process runs: claim a task, execute
// its units, report progress after each one, finalize in both stores.
type Runner struct {
	Status store.StatusStore
	Ledger store.Ledger
	Retry  RetryPolicy
	// StaleAfter is how long a job may sit in processing before a
	// redelivered task may reclaim it (crashed-worker recovery).
	StaleAfter time.Duration

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewRunner applies defaults.
func NewRunner(status store.StatusStore, ledger store.Ledger, retry RetryPolicy, staleAfter time.Duration) *Runner {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Backoff <= 0 {
		retry.Backoff = 2 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Runner{
		Status:     status,
		Ledger:     ledger,
		Retry:      retry,
		StaleAfter: staleAfter,
		sleep:      time.Sleep,
	}
}

// Handle returns the asynq handler for one capability. A nil return tells
// asynq the delivery is consumed; errors are reserved for infrastructure
// failures where redelivery can actually help.
func (r *Runner) Handle(cap Capability) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		env, err := tasks.DecodeEnvelope(t.Payload())
		if err != nil {
			// Malformed payloads never get better on redelivery.
			log.WithField("type", t.Type()).Errorf("dropping malformed task: %v", err)
			return nil
		}
		logger := log.WithFields(log.Fields{"job_id": env.JobID, "capability": cap.Name()})

		job, err := r.loadJob(ctx, env.JobID)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("task references unknown job, dropping")
			return nil
		}
		if err != nil {
			return err
		}

		if ok := r.claim(ctx, logger, job); !ok {
			return nil
		}
		return r.run(ctx, logger, cap, t.Payload(), job)
	}
}

// loadJob reads the fast store, falling back to the ledger when the status
// entry has expired (a task can wait in a deep queue longer than the TTL).
func (r *Runner) loadJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := r.Status.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return r.Ledger.GetJob(ctx, jobID)
	}
	return job, err
}

// claim decides whether this delivery owns the job. At-least-once delivery
// means the same task can arrive again after a worker already advanced the
// job; reprocessing would double AI calls, so those deliveries are no-ops.
func (r *Runner) claim(ctx context.Context, logger *log.Entry, job *models.Job) bool {
	if job.Terminal() {
		logger.WithField("status", job.Status).Debug("job already terminal, dropping redelivery")
		return false
	}
	if job.Status == models.JobStatusProcessing {
		if job.StartedAt != nil && time.Since(*job.StartedAt) < r.StaleAfter {
			logger.Debug("job owned by a live worker, dropping redelivery")
			return false
		}
		logger.Warn("reclaiming job stuck in processing")
	}
	// Cancellation may have been requested while the job waited in queue.
	if cancelled, err := r.Status.CancelRequested(ctx, job.JobID); err == nil && cancelled {
		now := time.Now().UTC()
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
		r.writeTerminal(ctx, logger, job)
		return false
	}
	return true
}

func (r *Runner) run(ctx context.Context, logger *log.Entry, cap Capability, payload []byte, job *models.Job) error {
	started := time.Now().UTC()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &started
	// Every claim re-runs the job from unit zero. A reclaimed stale job
	// still carries the crashed worker's counters; restarting without
	// resetting them would double-count done/failed units.
	zero := 0
	job.UnitsDone = 0
	job.UnitsFailed = 0
	job.FailedUnits = nil
	if err := r.merge(ctx, job.JobID, store.JobUpdate{
		Status:      &job.Status,
		StartedAt:   &started,
		UnitsDone:   &zero,
		UnitsFailed: &zero,
		FailedUnits: []models.UnitFailure{},
	}, job); err != nil {
		if errors.Is(err, store.ErrConflict) {
			logger.Debug("job turned terminal before claim completed")
			return nil
		}
		return err
	}
	logger.Info("job claimed")

	plan, err := cap.Plan(ctx, payload)
	if err != nil {
		// The source itself could not be loaded: whole-job failure.
		logger.Errorf("plan failed: %v", err)
		return r.finalizeFailed(ctx, logger, job, fmt.Sprintf("prepare job: %v", err))
	}
	if len(plan.Units) == 0 {
		return r.finalizeFailed(ctx, logger, job, "job has no units to process")
	}

	var results []UnitResult
	for _, unit := range plan.Units {
		if cancelled, cerr := r.Status.CancelRequested(ctx, job.JobID); cerr == nil && cancelled {
			logger.WithField("units_done", job.UnitsDone).Info("cancellation observed, stopping")
			return r.finalizeCancelled(ctx, logger, cap, plan, job, results)
		}

		job.CurrentUnit = unit.Label
		if err := r.merge(ctx, job.JobID, store.JobUpdate{CurrentUnit: &unit.Label}, job); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}

		out, uerr := r.runWithRetry(ctx, cap, plan, unit)
		if uerr != nil {
			logger.WithField("unit", unit.Label).Errorf("unit failed permanently: %v", uerr)
			job.UnitsFailed++
			job.FailedUnits = append(job.FailedUnits, models.UnitFailure{
				Index: unit.Index,
				Label: unit.Label,
				Error: uerr.Error(),
			})
			if err := r.merge(ctx, job.JobID, store.JobUpdate{
				UnitsFailed: &job.UnitsFailed,
				FailedUnits: job.FailedUnits,
			}, job); err != nil && !errors.Is(err, store.ErrConflict) {
				return err
			}
			continue
		}

		results = append(results, UnitResult{Index: unit.Index, Label: unit.Label, Output: out})
		job.UnitsDone++
		if err := r.merge(ctx, job.JobID, store.JobUpdate{UnitsDone: &job.UnitsDone}, job); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}

	if job.UnitsDone == 0 || (plan.AllOrNothing && job.UnitsFailed > 0) {
		return r.finalizeFailed(ctx, logger, job,
			fmt.Sprintf("%d of %d units failed", job.UnitsFailed, job.UnitsTotal))
	}

	result, err := cap.Assemble(plan, results)
	if err != nil {
		return r.finalizeFailed(ctx, logger, job, fmt.Sprintf("assemble result: %v", err))
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &now
	job.CurrentUnit = ""
	r.writeTerminal(ctx, logger, job)
	logger.WithFields(log.Fields{
		"units_done":   job.UnitsDone,
		"units_failed": job.UnitsFailed,
	}).Info("job completed")
	return nil
}

// runWithRetry gives one unit a bounded number of attempts with
// exponential backoff before declaring it permanently failed for this job.
func (r *Runner) runWithRetry(ctx context.Context, cap Capability, plan *Plan, unit Unit) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < r.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.sleep(r.Retry.Backoff << (attempt - 1))
		}
		out, err := cap.RunUnit(ctx, plan, unit)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", r.Retry.MaxAttempts, lastErr)
}

func (r *Runner) finalizeFailed(ctx context.Context, logger *log.Entry, job *models.Job, msg string) error {
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = msg
	job.CompletedAt = &now
	job.CurrentUnit = ""
	r.writeTerminal(ctx, logger, job)
	logger.WithField("error", msg).Info("job failed")
	return nil
}

// finalizeCancelled preserves the work already done: completed units stay
// in the result even though the job ends cancelled.
func (r *Runner) finalizeCancelled(ctx context.Context, logger *log.Entry, cap Capability, plan *Plan, job *models.Job, results []UnitResult) error {
	now := time.Now().UTC()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	job.CurrentUnit = ""
	if len(results) > 0 {
		if partial, err := cap.Assemble(plan, results); err == nil {
			job.Result = partial
		}
	}
	r.writeTerminal(ctx, logger, job)
	logger.Info("job cancelled")
	return nil
}

// writeTerminal mirrors the terminal snapshot into both stores. Fast store
// first (the poll path), durable ledger second; both writes always happen
// because they serve different readers. A crash between the two leaves a
// stale fast-store entry at worst, never a corrupted ledger record.
func (r *Runner) writeTerminal(ctx context.Context, logger *log.Entry, job *models.Job) {
	upd := store.JobUpdate{
		Status:      &job.Status,
		UnitsDone:   &job.UnitsDone,
		UnitsFailed: &job.UnitsFailed,
		CurrentUnit: &job.CurrentUnit,
		CompletedAt: job.CompletedAt,
	}
	if job.FailedUnits != nil {
		upd.FailedUnits = job.FailedUnits
	}
	if job.Result != nil {
		upd.Result = job.Result
	}
	if job.Error != "" {
		upd.Error = &job.Error
	}
	if err := r.merge(ctx, job.JobID, upd, job); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Errorf("terminal status write failed: %v", err)
	}
	if err := r.Ledger.FinalizeJob(ctx, job); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Errorf("ledger finalize failed: %v", err)
	}
}

// merge applies a partial update, re-creating the full record when the
// fast-store entry expired mid-flight (multi-day jobs outlive the TTL
// between writes only if the worker stalls, but expiry is always legal).
func (r *Runner) merge(ctx context.Context, jobID string, upd store.JobUpdate, job *models.Job) error {
	err := r.Status.MergeJob(ctx, jobID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return r.Status.PutJob(ctx, job)
	}
	return err
}
