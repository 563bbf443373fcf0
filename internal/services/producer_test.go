package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/config"
	"folio/internal/models"
	"folio/internal/store/storetest"
	"folio/internal/tasks"
)

type producerEnv struct {
	status   *storetest.StatusStore
	ledger   *storetest.Ledger
	points   *storetest.Points
	client   *storetest.JobClient
	producer *Producer
}

func newProducerEnv() *producerEnv {
	env := &producerEnv{
		status: storetest.NewStatusStore(),
		ledger: storetest.NewLedger(),
		points: storetest.NewPoints(),
		client: storetest.NewJobClient(),
	}
	pricing := map[string]config.PricingInfo{
		models.CapabilityTranslation: {Base: 2, PerUnit: 2},
		models.CapabilityNarration:   {Base: 2, PerUnit: 2},
	}
	env.producer = NewProducer(env.status, env.ledger, env.points, env.client, pricing)
	return env
}

func translationParams(units int) StartParams {
	return StartParams{
		UserID:     "user-1",
		Capability: models.CapabilityTranslation,
		UnitsTotal: units,
		NewTask: func(jobID string) (*asynq.Task, error) {
			return tasks.NewTranslationTask(tasks.TranslationPayload{
				JobEnvelope:    tasks.JobEnvelope{JobID: jobID, UserID: "user-1"},
				BookID:         "book-9",
				TargetLanguage: "French",
				Chapters: []tasks.ChapterRef{
					{Title: "Chapter 1", Ref: "ch-1"},
					{Title: "Chapter 2", Ref: "ch-2"},
					{Title: "Chapter 3", Ref: "ch-3"},
				},
			})
		},
	}
}

func TestStartAcceptsJob(t *testing.T) {
	env := newProducerEnv()
	ctx := context.Background()
	env.points.Grant("user-1", 10)

	job, err := env.producer.Start(ctx, translationParams(3))
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.UnitsTotal)
	// 2 base + 3 chapters x 2 points.
	assert.Equal(t, int64(8), job.PointsReserved)

	balance, err := env.points.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	// Snapshot visible in both stores before the response went out.
	fast, err := env.status.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, fast.Status)
	durable, err := env.ledger.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", durable.UserID)

	require.Len(t, env.client.Enqueued, 1)
	assert.Equal(t, models.CapabilityTranslation, env.client.Enqueued[0].Queue)
	assert.Equal(t, tasks.TypeTranslationJob, env.client.Enqueued[0].Task.Type())
}

func TestStartInsufficientPoints(t *testing.T) {
	env := newProducerEnv()
	ctx := context.Background()
	env.points.Grant("user-1", 7) // one short of the 8 needed

	_, err := env.producer.Start(ctx, translationParams(3))
	assert.ErrorIs(t, err, models.ErrInsufficientPoints)

	// No charge, no record, no task.
	balance, _ := env.points.Balance(ctx, "user-1")
	assert.Equal(t, int64(7), balance)
	jobs, _ := env.ledger.ListUserJobs(ctx, "user-1", 0, 0)
	assert.Empty(t, jobs)
	assert.Empty(t, env.client.Enqueued)
}

func TestStartValidation(t *testing.T) {
	env := newProducerEnv()
	ctx := context.Background()
	env.points.Grant("user-1", 100)

	cases := []struct {
		name   string
		mutate func(*StartParams)
	}{
		{"missing user", func(p *StartParams) { p.UserID = "" }},
		{"unknown capability", func(p *StartParams) { p.Capability = "mind-reading" }},
		{"zero units", func(p *StartParams) { p.UnitsTotal = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := translationParams(3)
			tc.mutate(&params)
			_, err := env.producer.Start(ctx, params)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	// Precondition failures never touched the balance.
	balance, _ := env.points.Balance(ctx, "user-1")
	assert.Equal(t, int64(100), balance)
}

func TestStartUnpricedCapability(t *testing.T) {
	env := newProducerEnv()
	env.points.Grant("user-1", 100)

	params := translationParams(3)
	params.Capability = models.CapabilityAIEditor // valid but not in this deployment's pricing
	_, err := env.producer.Start(context.Background(), params)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStartEnqueueFailureFailsJob(t *testing.T) {
	env := newProducerEnv()
	ctx := context.Background()
	env.points.Grant("user-1", 10)
	env.client.Err = errors.New("redis connection refused")

	_, err := env.producer.Start(ctx, translationParams(3))
	require.Error(t, err)

	// The job exists and is failed, not stuck pending.
	jobs, err := env.ledger.ListUserJobs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "could not accept job")

	fast, err := env.status.GetJob(ctx, jobs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, fast.Status)

	// Points stay charged once reserved.
	balance, _ := env.points.Balance(ctx, "user-1")
	assert.Equal(t, int64(2), balance)
}

func TestStartLedgerFailureFailsJob(t *testing.T) {
	env := newProducerEnv()
	ctx := context.Background()
	env.points.Grant("user-1", 10)
	env.ledger.InsertErr = errors.New("mongo connection reset")

	_, err := env.producer.Start(ctx, translationParams(3))
	require.Error(t, err)

	// The fast-store record must not sit pending until the TTL eats it.
	jobs := env.status.AllJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "could not accept job")
	require.NotNil(t, jobs[0].CompletedAt)

	assert.Empty(t, env.client.Enqueued)

	// Points stay charged once reserved.
	balance, _ := env.points.Balance(ctx, "user-1")
	assert.Equal(t, int64(2), balance)
}
