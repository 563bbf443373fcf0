package redisjob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"folio/internal/models"
	"folio/internal/store"
)

// Hash field names for the job record.
const (
	fieldUserID      = "user_id"
	fieldCapability  = "capability"
	fieldQueue       = "queue"
	fieldStatus      = "status"
	fieldUnitsTotal  = "units_total"
	fieldUnitsDone   = "units_done"
	fieldUnitsFailed = "units_failed"
	fieldCurrentUnit = "current_unit"
	fieldFailedUnits = "failed_units"
	fieldResult      = "result"
	fieldError       = "error"
	fieldPoints      = "points_reserved"
	fieldCreatedAt   = "created_at"
	fieldStartedAt   = "started_at"
	fieldCompletedAt = "completed_at"
)

var _ store.StatusStore = (*StatusStore)(nil)

// StatusStore keeps one Redis hash per job with a sliding TTL. It is the
// real-time view clients poll every few seconds; expiry is expected and
// handled by falling back to the durable ledger.
type StatusStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStatusStore creates a StatusStore. ttl bounds how long an idle record
// survives; every write slides it forward.
func NewStatusStore(rdb redis.UniversalClient, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

// PutJob writes the full record and resets the TTL.
func (s *StatusStore) PutJob(ctx context.Context, job *models.Job) error {
	fields := map[string]any{
		fieldUserID:      job.UserID,
		fieldCapability:  job.Capability,
		fieldQueue:       job.Queue,
		fieldStatus:      job.Status,
		fieldUnitsTotal:  job.UnitsTotal,
		fieldUnitsDone:   job.UnitsDone,
		fieldUnitsFailed: job.UnitsFailed,
		fieldCurrentUnit: job.CurrentUnit,
		fieldError:       job.Error,
		fieldPoints:      job.PointsReserved,
		fieldCreatedAt:   job.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(job.FailedUnits) > 0 {
		b, err := sonic.Marshal(job.FailedUnits)
		if err != nil {
			return fmt.Errorf("encode failed_units: %w", err)
		}
		fields[fieldFailedUnits] = string(b)
	}
	if len(job.Result) > 0 {
		fields[fieldResult] = string(job.Result)
	}
	if job.StartedAt != nil {
		fields[fieldStartedAt] = job.StartedAt.Format(time.RFC3339Nano)
	}
	if job.CompletedAt != nil {
		fields[fieldCompletedAt] = job.CompletedAt.Format(time.RFC3339Nano)
	}
	return s.write(ctx, job.JobID, fields)
}

// MergeJob merges the non-nil fields of upd into the record and resets the
// TTL. Status changes against a terminal record return ErrConflict.
func (s *StatusStore) MergeJob(ctx context.Context, jobID string, upd store.JobUpdate) error {
	current, err := s.rdb.HGet(ctx, jobKey(jobID), fieldStatus).Result()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status for %s: %w", jobID, err)
	}
	if upd.Status != nil && models.IsTerminalStatus(current) {
		return store.ErrConflict
	}

	fields := map[string]any{}
	if upd.Status != nil {
		fields[fieldStatus] = *upd.Status
	}
	if upd.UnitsDone != nil {
		fields[fieldUnitsDone] = *upd.UnitsDone
	}
	if upd.UnitsFailed != nil {
		fields[fieldUnitsFailed] = *upd.UnitsFailed
	}
	if upd.CurrentUnit != nil {
		fields[fieldCurrentUnit] = *upd.CurrentUnit
	}
	if upd.FailedUnits != nil {
		b, err := sonic.Marshal(upd.FailedUnits)
		if err != nil {
			return fmt.Errorf("encode failed_units: %w", err)
		}
		fields[fieldFailedUnits] = string(b)
	}
	if upd.Result != nil {
		fields[fieldResult] = string(upd.Result)
	}
	if upd.Error != nil {
		fields[fieldError] = *upd.Error
	}
	if upd.StartedAt != nil {
		fields[fieldStartedAt] = upd.StartedAt.Format(time.RFC3339Nano)
	}
	if upd.CompletedAt != nil {
		fields[fieldCompletedAt] = upd.CompletedAt.Format(time.RFC3339Nano)
	}
	if len(fields) == 0 {
		return nil
	}
	return s.write(ctx, jobID, fields)
}

func (s *StatusStore) write(ctx context.Context, jobID string, fields map[string]any) error {
	key := jobKey(jobID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write job %s: %w", jobID, err)
	}
	return nil
}

// GetJob returns the current record, or ErrNotFound once it has expired.
func (s *StatusStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	raw, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(raw) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeJob(jobID, raw)
}

func decodeJob(jobID string, raw map[string]string) (*models.Job, error) {
	job := &models.Job{
		JobID:       jobID,
		UserID:      raw[fieldUserID],
		Capability:  raw[fieldCapability],
		Queue:       raw[fieldQueue],
		Status:      raw[fieldStatus],
		CurrentUnit: raw[fieldCurrentUnit],
		Error:       raw[fieldError],
	}
	job.UnitsTotal, _ = strconv.Atoi(raw[fieldUnitsTotal])
	job.UnitsDone, _ = strconv.Atoi(raw[fieldUnitsDone])
	job.UnitsFailed, _ = strconv.Atoi(raw[fieldUnitsFailed])
	job.PointsReserved, _ = strconv.ParseInt(raw[fieldPoints], 10, 64)

	if v := raw[fieldFailedUnits]; v != "" {
		if err := sonic.Unmarshal([]byte(v), &job.FailedUnits); err != nil {
			return nil, fmt.Errorf("decode failed_units for %s: %w", jobID, err)
		}
	}
	if v := raw[fieldResult]; v != "" {
		job.Result = []byte(v)
	}
	if v := raw[fieldCreatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode created_at for %s: %w", jobID, err)
		}
		job.CreatedAt = t
	}
	if v := raw[fieldStartedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.StartedAt = &t
		}
	}
	if v := raw[fieldCompletedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CompletedAt = &t
		}
	}
	return job, nil
}

// RequestCancel sets the cooperative stop flag. Workers check it between
// sub-units; an in-flight unit is never preempted.
func (s *StatusStore) RequestCancel(ctx context.Context, jobID string) error {
	if err := s.rdb.Set(ctx, cancelKey(jobID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("set cancel flag for %s: %w", jobID, err)
	}
	return nil
}

// CancelRequested reports whether the stop flag is set.
func (s *StatusStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	_, err := s.rdb.Get(ctx, cancelKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag for %s: %w", jobID, err)
	}
	return true, nil
}
