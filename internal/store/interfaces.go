package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"folio/internal/models"
)

// JobUpdate is a partial, merge-style update applied to an existing job
// record. Nil fields are left untouched. Last writer wins per field; only
// one worker owns a job at a time, so no locking happens at this layer.
type JobUpdate struct {
	Status      *string
	UnitsDone   *int
	UnitsFailed *int
	CurrentUnit *string
	FailedUnits []models.UnitFailure
	Result      json.RawMessage
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StatusStore is the fast, TTL-bound view of job status that clients poll.
// Entries expire automatically; the Ledger is the fallback after that.
type StatusStore interface {
	// PutJob writes the full job record (create-or-replace) and resets the TTL.
	PutJob(ctx context.Context, job *models.Job) error
	// MergeJob merges the given fields into the record and resets the TTL.
	// Returns ErrConflict when upd changes the status of a terminal job,
	// ErrNotFound when the record has expired or never existed.
	MergeJob(ctx context.Context, jobID string, upd JobUpdate) error
	// GetJob returns ErrNotFound if the record expired or never existed.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// RequestCancel sets the cooperative stop flag for a job. The flag is a
	// separate key, never a field the worker writes, so there is no
	// write-write race with progress updates.
	RequestCancel(ctx context.Context, jobID string) error
	// CancelRequested reports whether the stop flag is set.
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// Ledger is the durable system of record for jobs, written at creation and
// at terminal transitions. It has no TTL and serves history and the
// fallback read path once the StatusStore entry expires.
type Ledger interface {
	InsertJob(ctx context.Context, job *models.Job) error
	// FinalizeJob replaces the stored record with the given terminal
	// snapshot. Returns ErrConflict if the stored record is already
	// terminal, ErrNotFound if no record exists.
	FinalizeJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// ListUserJobs returns the user's jobs newest-first.
	ListUserJobs(ctx context.Context, userID string, limit, skip int) ([]*models.Job, error)
}

// PointsLedger is the billing boundary. The core only ever reserves;
// reserved points are not refunded on failure or cancellation (platform
// policy), so no credit method exists at this boundary.
type PointsLedger interface {
	// Reserve atomically charges amount against the user's balance.
	// Returns models.ErrInsufficientPoints without charging anything when
	// the balance is too low.
	Reserve(ctx context.Context, userID string, amount int64) error
	Balance(ctx context.Context, userID string) (int64, error)
}

// BlobStore holds payloads and results too large to inline in job records
// (chapter texts, rendered audio).
type BlobStore interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// Store persists data and returns an opaque ref. hint is a
	// filename-ish label used for the ref's suffix.
	Store(ctx context.Context, data []byte, hint string) (string, error)
}

// JobClient hands tasks to the queue transport.
type JobClient interface {
	Enqueue(ctx context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error)
	Close() error
}
