package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/models"
)

func validConfig() *Config {
	c := &Config{}
	c.Redis.Address = "localhost:6379"
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "folio"
	c.JobStore.TTL = 24 * time.Hour
	c.Worker.Concurrency = 4
	c.Worker.Queues = map[string]int{models.CapabilityTranslation: 1}
	c.Worker.MaxAttempts = 3
	c.Worker.Backoff = 2 * time.Second
	c.Pricing = map[string]PricingInfo{
		models.CapabilityTranslation: {Base: 2, PerUnit: 2},
	}
	return c
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing redis address", func(c *Config) { c.Redis.Address = "" }},
		{"missing mongo uri", func(c *Config) { c.Mongo.URI = "" }},
		{"zero ttl", func(c *Config) { c.JobStore.TTL = 0 }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"no queues", func(c *Config) { c.Worker.Queues = nil }},
		{"zero queue weight", func(c *Config) { c.Worker.Queues[models.CapabilityTranslation] = 0 }},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }},
		{"unknown priced capability", func(c *Config) { c.Pricing["mind-reading"] = PricingInfo{Base: 1} }},
		{"negative pricing", func(c *Config) { c.Pricing[models.CapabilityTranslation] = PricingInfo{Base: -1} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestPricingCost(t *testing.T) {
	p := PricingInfo{Base: 2, PerUnit: 2}
	// A three-chapter translation: base 2 plus 2 per chapter.
	assert.Equal(t, int64(8), p.Cost(3))
	assert.Equal(t, int64(4), p.Cost(1))
}
