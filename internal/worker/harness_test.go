package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/models"
	"folio/internal/store/storetest"
)

// fakeCapability runs scripted units: unitErrs[label] fails that unit on
// every attempt unless failuresBeforeSuccess says otherwise.
type fakeCapability struct {
	units        []Unit
	allOrNothing bool
	planErr      error

	// unitErrs makes the named units fail permanently.
	unitErrs map[string]error
	// flaky maps a label to the number of failures before success.
	flaky map[string]int

	// afterUnit runs after each successful unit, for mid-run mutations.
	afterUnit func(label string)

	mu       sync.Mutex
	attempts map[string]int
}

func (f *fakeCapability) Name() string     { return "fake" }
func (f *fakeCapability) TaskType() string { return "fake:run" }

func (f *fakeCapability) Plan(context.Context, []byte) (*Plan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &Plan{Units: f.units, AllOrNothing: f.allOrNothing}, nil
}

func (f *fakeCapability) RunUnit(_ context.Context, _ *Plan, unit Unit) (json.RawMessage, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[unit.Label]++
	n := f.attempts[unit.Label]
	f.mu.Unlock()

	if err, ok := f.unitErrs[unit.Label]; ok {
		return nil, err
	}
	if left, ok := f.flaky[unit.Label]; ok && n <= left {
		return nil, fmt.Errorf("transient failure %d for %s", n, unit.Label)
	}
	if f.afterUnit != nil {
		f.afterUnit(unit.Label)
	}
	return json.RawMessage(fmt.Sprintf(`{"unit":%q}`, unit.Label)), nil
}

func (f *fakeCapability) Assemble(_ *Plan, results []UnitResult) (json.RawMessage, error) {
	return json.Marshal(map[string]int{"units": len(results)})
}

func (f *fakeCapability) attemptCount(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[label]
}

func threeUnits() []Unit {
	return []Unit{
		{Index: 0, Label: "Chapter 1", Ref: "ch-1"},
		{Index: 1, Label: "Chapter 2", Ref: "ch-2"},
		{Index: 2, Label: "Chapter 3", Ref: "ch-3"},
	}
}

type harnessEnv struct {
	status *storetest.StatusStore
	ledger *storetest.Ledger
	runner *Runner
}

func newHarnessEnv(t *testing.T) *harnessEnv {
	t.Helper()
	status := storetest.NewStatusStore()
	ledger := storetest.NewLedger()
	r := NewRunner(status, ledger, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, 30*time.Minute)
	r.sleep = func(time.Duration) {}
	return &harnessEnv{status: status, ledger: ledger, runner: r}
}

func (e *harnessEnv) seedJob(t *testing.T, job *models.Job) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.status.PutJob(ctx, job))
	require.NoError(t, e.ledger.InsertJob(ctx, job))
}

func pendingJob(units int) *models.Job {
	return &models.Job{
		JobID:      "job-1",
		UserID:     "user-1",
		Capability: models.CapabilityTranslation,
		Queue:      models.CapabilityTranslation,
		Status:     models.JobStatusPending,
		UnitsTotal: units,
		CreatedAt:  time.Now().UTC(),
	}
}

func runTask(t *testing.T, r *Runner, cap Capability, jobID string) error {
	t.Helper()
	task := asynq.NewTask(cap.TaskType(), []byte(fmt.Sprintf(`{"job_id":%q,"user_id":"user-1"}`, jobID)))
	return r.Handle(cap)(context.Background(), task)
}

func TestRunAllUnitsSucceed(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.UnitsDone)
	assert.Equal(t, 0, got.UnitsFailed)
	assert.Empty(t, got.CurrentUnit)
	assert.JSONEq(t, `{"units":3}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)

	// Terminal snapshot landed in the ledger too.
	durable, err := env.ledger.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, durable.Status)
	assert.Equal(t, 3, durable.UnitsDone)
}

func TestRunPartialFailureStillCompletes(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{
		units:    threeUnits(),
		unitErrs: map[string]error{"Chapter 2": errors.New("model refused")},
	}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.UnitsDone)
	assert.Equal(t, 1, got.UnitsFailed)
	require.Len(t, got.FailedUnits, 1)
	assert.Equal(t, "Chapter 2", got.FailedUnits[0].Label)
	assert.Contains(t, got.FailedUnits[0].Error, "model refused")
	// The failed unit used its whole attempt budget.
	assert.Equal(t, 3, cap.attemptCount("Chapter 2"))
}

func TestRunAllUnitsFail(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{
		units: threeUnits(),
		unitErrs: map[string]error{
			"Chapter 1": errors.New("boom"),
			"Chapter 2": errors.New("boom"),
			"Chapter 3": errors.New("boom"),
		},
	}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 0, got.UnitsDone)
	assert.Equal(t, 3, got.UnitsFailed)
	assert.Contains(t, got.Error, "3 of 3 units failed")
}

func TestRunAllOrNothingFailsOnAnyUnit(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{
		units:        threeUnits(),
		allOrNothing: true,
		unitErrs:     map[string]error{"Chapter 3": errors.New("boom")},
	}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.UnitsDone)
	assert.Equal(t, 1, got.UnitsFailed)
}

func TestRunRetriesTransientUnitFailure(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{
		units: threeUnits(),
		flaky: map[string]int{"Chapter 1": 2},
	}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.UnitsDone)
	assert.Equal(t, 0, got.UnitsFailed)
	assert.Equal(t, 3, cap.attemptCount("Chapter 1"))
	assert.Equal(t, 1, cap.attemptCount("Chapter 2"))
}

func TestRunPlanErrorFailsJob(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{planErr: errors.New("book not found")}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "book not found")
}

func TestRunEmptyPlanFailsJob(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(0))
	cap := &fakeCapability{}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestRedeliveryOfTerminalJobIsNoOp(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(3)
	job.Status = models.JobStatusCompleted
	job.UnitsDone = 3
	env.seedJob(t, job)
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	// No unit ran, nothing changed.
	assert.Equal(t, 0, cap.attemptCount("Chapter 1"))
	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.UnitsDone)
}

func TestRedeliveryWhileProcessingIsNoOp(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(3)
	job.Status = models.JobStatusProcessing
	started := time.Now().UTC().Add(-time.Minute)
	job.StartedAt = &started
	env.seedJob(t, job)
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	assert.Equal(t, 0, cap.attemptCount("Chapter 1"))
}

func TestRedeliveryReclaimsStaleProcessingJob(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(3)
	job.Status = models.JobStatusProcessing
	started := time.Now().UTC().Add(-2 * time.Hour)
	job.StartedAt = &started
	env.seedJob(t, job)
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.UnitsDone)
}

func TestStaleReclaimResetsProgressCounters(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(3)
	job.Status = models.JobStatusProcessing
	started := time.Now().UTC().Add(-2 * time.Hour)
	job.StartedAt = &started
	// Progress left behind by the crashed worker.
	job.UnitsDone = 1
	job.UnitsFailed = 1
	job.FailedUnits = []models.UnitFailure{{Index: 0, Label: "Chapter 1", Error: "worker lost"}}
	env.seedJob(t, job)
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	// Counters reflect this run only, never the crashed attempt's.
	assert.Equal(t, 3, got.UnitsDone)
	assert.Equal(t, 0, got.UnitsFailed)
	assert.Empty(t, got.FailedUnits)
	assert.LessOrEqual(t, got.UnitsDone, got.UnitsTotal)

	durable, err := env.ledger.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, durable.UnitsDone)
	assert.Equal(t, 0, durable.UnitsFailed)
}

func TestCancellationBetweenUnitsPreservesProgress(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	cap := &fakeCapability{units: threeUnits()}
	cap.afterUnit = func(label string) {
		if label == "Chapter 1" {
			require.NoError(t, env.status.RequestCancel(context.Background(), "job-1"))
		}
	}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, 1, got.UnitsDone)
	// Partial output survives cancellation.
	assert.JSONEq(t, `{"units":1}`, string(got.Result))
	assert.Equal(t, 0, cap.attemptCount("Chapter 2"))
}

func TestCancellationBeforeClaim(t *testing.T) {
	env := newHarnessEnv(t)
	env.seedJob(t, pendingJob(3))
	require.NoError(t, env.status.RequestCancel(context.Background(), "job-1"))
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, cap.attemptCount("Chapter 1"))
}

func TestUnknownJobIsDropped(t *testing.T) {
	env := newHarnessEnv(t)
	cap := &fakeCapability{units: threeUnits()}

	// Consumed without error so asynq never redelivers.
	assert.NoError(t, runTask(t, env.runner, cap, "ghost"))
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	env := newHarnessEnv(t)
	cap := &fakeCapability{units: threeUnits()}

	task := asynq.NewTask(cap.TaskType(), []byte(`{"job_id":""}`))
	assert.NoError(t, env.runner.Handle(cap)(context.Background(), task))
}

func TestExpiredStatusEntryFallsBackToLedger(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(3)
	env.seedJob(t, job)
	// TTL expiry while the task waited in a deep queue.
	env.status.Expire("job-1")
	cap := &fakeCapability{units: threeUnits()}

	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	// The fast-store record was re-created and the job ran to completion.
	got, err := env.status.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	durable, err := env.ledger.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, durable.Status)
}

func TestWriteTerminalToleratesLedgerConflict(t *testing.T) {
	env := newHarnessEnv(t)
	job := pendingJob(1)
	env.seedJob(t, job)

	// Another writer finalized the ledger record first.
	terminal := *job
	terminal.Status = models.JobStatusCancelled
	require.NoError(t, env.ledger.FinalizeJob(context.Background(), &terminal))

	cap := &fakeCapability{units: threeUnits()[:1]}
	require.NoError(t, runTask(t, env.runner, cap, "job-1"))

	// Ledger keeps the first terminal state.
	durable, err := env.ledger.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, durable.Status)
}
