// Package storetest provides in-memory store implementations for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"github.com/hibiken/asynq"

	"folio/internal/models"
	"folio/internal/store"
)

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.FailedUnits != nil {
		c.FailedUnits = append([]models.UnitFailure(nil), j.FailedUnits...)
	}
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StatusStore is an in-memory store.StatusStore.
type StatusStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	cancels map[string]bool

	// PutErr and MergeErr force write failures when set.
	PutErr   error
	MergeErr error
}

var _ store.StatusStore = (*StatusStore)(nil)

func NewStatusStore() *StatusStore {
	return &StatusStore{
		jobs:    make(map[string]*models.Job),
		cancels: make(map[string]bool),
	}
}

func (s *StatusStore) PutJob(_ context.Context, job *models.Job) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = copyJob(job)
	return nil
}

func (s *StatusStore) MergeJob(_ context.Context, jobID string, upd store.JobUpdate) error {
	if s.MergeErr != nil {
		return s.MergeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil && models.IsTerminalStatus(job.Status) {
		return store.ErrConflict
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.UnitsDone != nil {
		job.UnitsDone = *upd.UnitsDone
	}
	if upd.UnitsFailed != nil {
		job.UnitsFailed = *upd.UnitsFailed
	}
	if upd.CurrentUnit != nil {
		job.CurrentUnit = *upd.CurrentUnit
	}
	if upd.FailedUnits != nil {
		job.FailedUnits = append([]models.UnitFailure(nil), upd.FailedUnits...)
	}
	if upd.Result != nil {
		job.Result = append([]byte(nil), upd.Result...)
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	return nil
}

func (s *StatusStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(job), nil
}

// AllJobs returns every stored record, for assertions where the job id is
// generated inside the code under test.
func (s *StatusStore) AllJobs() []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, copyJob(j))
	}
	return jobs
}

// Expire simulates TTL expiry of a status record.
func (s *StatusStore) Expire(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

func (s *StatusStore) RequestCancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = true
	return nil
}

func (s *StatusStore) CancelRequested(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[jobID], nil
}

// Ledger is an in-memory store.Ledger.
type Ledger struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	// InsertErr forces InsertJob to fail when set.
	InsertErr error
}

var _ store.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{jobs: make(map[string]*models.Job)}
}

func (l *Ledger) InsertJob(_ context.Context, job *models.Job) error {
	if l.InsertErr != nil {
		return l.InsertErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[job.JobID]; ok {
		return store.ErrDuplicate
	}
	l.jobs[job.JobID] = copyJob(job)
	return nil
}

func (l *Ledger) FinalizeJob(_ context.Context, job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.jobs[job.JobID]
	if !ok {
		return store.ErrNotFound
	}
	if models.IsTerminalStatus(existing.Status) {
		return store.ErrConflict
	}
	l.jobs[job.JobID] = copyJob(job)
	return nil
}

func (l *Ledger) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(job), nil
}

func (l *Ledger) ListUserJobs(_ context.Context, userID string, limit, skip int) ([]*models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var jobs []*models.Job
	for _, j := range l.jobs {
		if j.UserID == userID {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if skip >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[skip:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Points is an in-memory store.PointsLedger.
type Points struct {
	mu       sync.Mutex
	balances map[string]int64
}

var _ store.PointsLedger = (*Points)(nil)

func NewPoints() *Points {
	return &Points{balances: make(map[string]int64)}
}

func (p *Points) Grant(userID string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[userID] += amount
}

func (p *Points) Reserve(_ context.Context, userID string, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balances[userID] < amount {
		return models.ErrInsufficientPoints
	}
	p.balances[userID] -= amount
	return nil
}

func (p *Points) Balance(_ context.Context, userID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[userID], nil
}

// JobClient captures enqueued tasks instead of talking to Redis.
type JobClient struct {
	mu       sync.Mutex
	Enqueued []EnqueuedTask

	// Err forces every Enqueue to fail when set.
	Err error
}

type EnqueuedTask struct {
	Task  *asynq.Task
	Queue string
}

var _ store.JobClient = (*JobClient)(nil)

func NewJobClient() *JobClient {
	return &JobClient{}
}

func (c *JobClient) Enqueue(_ context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enqueued = append(c.Enqueued, EnqueuedTask{Task: task, Queue: queue})
	return &asynq.TaskInfo{ID: "task-" + queue, Queue: queue}, nil
}

func (c *JobClient) Close() error { return nil }

// Blobs is an in-memory store.BlobStore.
type Blobs struct {
	mu    sync.Mutex
	data  map[string][]byte
	Fails map[string]error
}

var _ store.BlobStore = (*Blobs)(nil)

func NewBlobs() *Blobs {
	return &Blobs{data: make(map[string][]byte)}
}

func (b *Blobs) Put(ref string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[ref] = data
}

func (b *Blobs) Fetch(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.Fails[ref]; ok {
		return nil, err
	}
	data, ok := b.data[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *Blobs) Store(_ context.Context, data []byte, hint string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := hint
	if ref == "" {
		ref = "blob"
	}
	b.data[ref] = append([]byte(nil), data...)
	return ref, nil
}
