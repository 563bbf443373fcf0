package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"folio/internal/config"
	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
)

// StartParams is a validated, capability-agnostic accept request. The
// handler layer decodes the capability-specific body and supplies NewTask
// so the producer never sees payload internals.
type StartParams struct {
	UserID     string
	Capability string
	UnitsTotal int
	// NewTask builds the queue task once the job id is known.
	NewTask func(jobID string) (*asynq.Task, error)
}

// Producer accepts a job: validate, reserve points, create the record in
// both stores, enqueue, and return the snapshot sub-second. All the slow
// work happens later on a worker.
type Producer struct {
	status  store.StatusStore
	ledger  store.Ledger
	points  store.PointsLedger
	client  store.JobClient
	pricing map[string]config.PricingInfo
}

func NewProducer(status store.StatusStore, ledger store.Ledger, points store.PointsLedger, client store.JobClient, pricing map[string]config.PricingInfo) *Producer {
	return &Producer{status: status, ledger: ledger, points: points, client: client, pricing: pricing}
}

// Start accepts a job and returns its initial snapshot.
//
// Precondition failures (validation, zero units, insufficient points)
// happen before any side effect: no job record, no charge. Once points are
// reserved they are not refunded, even if the job later fails - only a
// precondition failure avoids the charge.
func (p *Producer) Start(ctx context.Context, params StartParams) (*models.Job, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", models.ErrValidation)
	}
	if !models.ValidCapability(params.Capability) {
		return nil, fmt.Errorf("%w: unknown capability %q", models.ErrValidation, params.Capability)
	}
	if params.UnitsTotal < 1 {
		return nil, fmt.Errorf("%w: nothing to process", models.ErrValidation)
	}
	pricing, ok := p.pricing[params.Capability]
	if !ok {
		return nil, fmt.Errorf("%w: no pricing for capability %q", models.ErrValidation, params.Capability)
	}

	cost := pricing.Cost(params.UnitsTotal)
	if err := p.points.Reserve(ctx, params.UserID, cost); err != nil {
		return nil, err
	}

	job := &models.Job{
		JobID:          uuid.NewString(),
		UserID:         params.UserID,
		Capability:     params.Capability,
		Queue:          tasks.QueueFor(params.Capability),
		Status:         models.JobStatusPending,
		UnitsTotal:     params.UnitsTotal,
		PointsReserved: cost,
		CreatedAt:      time.Now().UTC(),
	}

	// Fast store first (clients start polling immediately), ledger second.
	if err := p.status.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	if err := p.ledger.InsertJob(ctx, job); err != nil {
		return nil, p.failAccept(ctx, job, fmt.Errorf("create ledger record: %w", err))
	}

	task, err := params.NewTask(job.JobID)
	if err != nil {
		return nil, p.failAccept(ctx, job, fmt.Errorf("build task: %w", err))
	}
	if _, err := p.client.Enqueue(ctx, task, job.Queue); err != nil {
		return nil, p.failAccept(ctx, job, err)
	}

	log.WithFields(log.Fields{
		"job_id":     job.JobID,
		"capability": job.Capability,
		"units":      job.UnitsTotal,
		"points":     cost,
	}).Info("job accepted")
	return job, nil
}

// failAccept finalizes a job whose acceptance broke down after the fast
// store record was written (ledger insert, task build, or enqueue). It must
// not stay pending forever; points stay charged (policy).
func (p *Producer) failAccept(ctx context.Context, job *models.Job, cause error) error {
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = fmt.Sprintf("could not accept job: %v", cause)
	job.CompletedAt = &now

	failed := job.Status
	if err := p.status.MergeJob(ctx, job.JobID, store.JobUpdate{
		Status:      &failed,
		Error:       &job.Error,
		CompletedAt: &now,
	}); err != nil {
		log.WithField("job_id", job.JobID).Errorf("mark acceptance failure in status store: %v", err)
	}
	// ErrNotFound here means the ledger insert itself was the failure; the
	// fast-store record already carries the terminal state.
	if err := p.ledger.FinalizeJob(ctx, job); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithField("job_id", job.JobID).Errorf("mark acceptance failure in ledger: %v", err)
	}
	return fmt.Errorf("accept job %s: %w", job.JobID, cause)
}
