package store

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// AsynqJobClient is the concrete JobClient backed by an asynq.Client.
var _ JobClient = (*AsynqJobClient)(nil)

type AsynqJobClient struct {
	client   *asynq.Client
	maxRetry int
}

// NewAsynqJobClient creates a queue client against the given Redis.
// maxRetry bounds transport-level redeliveries; sub-unit retries are the
// worker harness's business, not the queue's.
func NewAsynqJobClient(opt asynq.RedisClientOpt, maxRetry int) *AsynqJobClient {
	return &AsynqJobClient{
		client:   asynq.NewClient(opt),
		maxRetry: maxRetry,
	}
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// Enqueue makes the task visible to consumers of the named queue. Callers
// must treat an error as "not queued" and finalize the job as failed rather
// than leave it pending forever.
func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error) {
	info, err := jc.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(jc.maxRetry),
	)
	if err != nil {
		log.WithFields(log.Fields{"type": task.Type(), "queue": queue}).
			Errorf("enqueue failed: %v", err)
		return nil, fmt.Errorf("enqueue %s to %s: %w", task.Type(), queue, err)
	}
	log.WithFields(log.Fields{"type": task.Type(), "queue": info.Queue, "task_id": info.ID}).
		Debug("task enqueued")
	return info, nil
}
