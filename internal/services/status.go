package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"folio/internal/models"
	"folio/internal/store"
)

// StatusService serves polling and cancellation. Reads hit the fast store
// first and fall back to the durable ledger once the TTL has expired.
type StatusService struct {
	status store.StatusStore
	ledger store.Ledger
}

func NewStatusService(status store.StatusStore, ledger store.Ledger) *StatusService {
	return &StatusService{status: status, ledger: ledger}
}

// Get returns the job snapshot for its owner. Jobs belonging to other
// users surface as not-found, never as forbidden, so job ids leak nothing
// about other tenants.
func (s *StatusService) Get(ctx context.Context, jobID, requesterID string) (*models.Job, error) {
	job, err := s.status.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		job, err = s.ledger.GetJob(ctx, jobID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if job.UserID != requesterID {
		return nil, models.ErrNotFound
	}
	return job, nil
}

// Cancel requests a best-effort stop. Pending jobs are cancelled outright;
// processing jobs get the cooperative flag the worker checks between
// sub-units, so an in-flight unit always finishes first.
func (s *StatusService) Cancel(ctx context.Context, jobID, requesterID string) (*models.Job, error) {
	job, err := s.Get(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, models.ErrJobTerminal
	}

	// Always set the flag: even a pending job may be claimed between this
	// read and the writes below, and the worker honors the flag either way.
	if err := s.status.RequestCancel(ctx, jobID); err != nil {
		return nil, fmt.Errorf("request cancel for %s: %w", jobID, err)
	}

	if job.Status == models.JobStatusPending {
		now := time.Now().UTC()
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now

		cancelled := job.Status
		err := s.status.MergeJob(ctx, jobID, store.JobUpdate{
			Status:      &cancelled,
			CompletedAt: &now,
		})
		if err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("cancel %s: %w", jobID, err)
		}
		if err := s.ledger.FinalizeJob(ctx, job); err != nil && !errors.Is(err, store.ErrConflict) {
			log.WithField("job_id", jobID).Errorf("ledger cancel write failed: %v", err)
		}
	}
	log.WithFields(log.Fields{"job_id": jobID, "status": job.Status}).Info("cancellation requested")
	return job, nil
}

// List returns the requester's jobs from the ledger, newest-first.
func (s *StatusService) List(ctx context.Context, requesterID string, limit, skip int) ([]*models.Job, error) {
	return s.ledger.ListUserJobs(ctx, requesterID, limit, skip)
}
