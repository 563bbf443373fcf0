package models

import (
	"encoding/json"
	"time"
)

// UnitFailure records one sub-unit (chapter, slide, audio segment) that
// failed permanently after all retries for its job.
type UnitFailure struct {
	Index int    `json:"index" bson:"index"`
	Label string `json:"label,omitempty" bson:"label,omitempty"`
	Error string `json:"error" bson:"error"`
}

// Job is the client-visible progress record for one accepted request.
// The Redis status store holds it during the job's active lifetime; the
// Mongo ledger keeps it forever. The job_id is the key in both.
type Job struct {
	JobID          string          `json:"job_id" bson:"_id"`
	UserID         string          `json:"user_id" bson:"user_id"`
	Capability     string          `json:"capability" bson:"capability"`
	Queue          string          `json:"queue" bson:"queue"`
	Status         string          `json:"status" bson:"status"`
	UnitsTotal     int             `json:"units_total" bson:"units_total"`
	UnitsDone      int             `json:"units_done" bson:"units_done"`
	UnitsFailed    int             `json:"units_failed" bson:"units_failed"`
	CurrentUnit    string          `json:"current_unit,omitempty" bson:"current_unit,omitempty"`
	FailedUnits    []UnitFailure   `json:"failed_units,omitempty" bson:"failed_units,omitempty"`
	Result         json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
	Error          string          `json:"error,omitempty" bson:"error,omitempty"`
	PointsReserved int64           `json:"points_reserved" bson:"points_reserved"`
	CreatedAt      time.Time       `json:"created_at" bson:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return IsTerminalStatus(j.Status)
}

// Active reports whether clients should keep polling this job.
func (j *Job) Active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}
