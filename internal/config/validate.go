package config

import (
	"errors"
	"fmt"

	"folio/internal/models"
)

// Validate checks the fields every deployment needs before any component
// starts. Provider API keys are deliberately not required here: a worker
// can run a subset of capabilities, and missing keys disable executors
// at registration time instead.
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return errors.New("mongo.database is required")
	}

	if c.JobStore.TTL <= 0 {
		return errors.New("jobstore.ttl must be a positive duration")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("worker.queues must define at least one queue")
	}
	for name, weight := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if weight <= 0 {
			return fmt.Errorf("worker.queues[%s] must have a positive weight", name)
		}
	}
	if c.Worker.MaxAttempts <= 0 {
		return errors.New("worker.max_attempts must be a positive integer")
	}
	if c.Worker.Backoff <= 0 {
		return errors.New("worker.backoff must be a positive duration")
	}

	for capability, pricing := range c.Pricing {
		if !models.ValidCapability(capability) {
			return fmt.Errorf("pricing defined for unknown capability %q", capability)
		}
		if pricing.Base < 0 || pricing.PerUnit < 0 {
			return fmt.Errorf("pricing[%s] must not be negative", capability)
		}
	}
	return nil
}
