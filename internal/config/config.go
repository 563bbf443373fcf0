package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"folio/internal/models"
)

// PricingInfo holds the point cost of one job for a capability: a base
// charge plus a charge per sub-unit (chapter, slide, segment).
type PricingInfo struct {
	Base    int64 `mapstructure:"base"`
	PerUnit int64 `mapstructure:"per_unit"`
}

// Cost computes the points reserved for a job with the given unit count.
func (p PricingInfo) Cost(units int) int64 {
	return p.Base + p.PerUnit*int64(units)
}

type Config struct {
	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	JobStore struct {
		// TTL bounds how long an idle status record survives in Redis.
		// Every write slides it forward.
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"jobstore"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
		// MaxAttempts and Backoff bound per-sub-unit retries inside a job.
		MaxAttempts int           `mapstructure:"max_attempts"`
		Backoff     time.Duration `mapstructure:"backoff"`
		// StaleAfter is how long a job may sit in processing before a
		// redelivered task is allowed to reclaim it.
		StaleAfter time.Duration `mapstructure:"stale_after"`
		// TransportRetry bounds queue-level redeliveries of a task.
		TransportRetry int `mapstructure:"transport_retry"`
	} `mapstructure:"worker"`

	Blob struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"blob"`

	Providers struct {
		GoogleApiKey string `mapstructure:"google_api_key"`
		GeminiModel  string `mapstructure:"gemini_model"`
		OpenaiApiKey string `mapstructure:"openai_api_key"`
		OpenaiModel  string `mapstructure:"openai_model"`
		TTSModel     string `mapstructure:"tts_model"`
		TTSVoice     string `mapstructure:"tts_voice"`
	} `mapstructure:"providers"`

	// Pricing: map[capability] = {base, per_unit}
	Pricing map[string]PricingInfo `mapstructure:"pricing"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	// API keys come from the environment in every real deployment.
	viper.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("providers.google_api_key", "GEMINI_API_KEY")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "folio")
	viper.SetDefault("jobstore.ttl", "24h")

	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.max_attempts", 3)
	viper.SetDefault("worker.backoff", "2s")
	viper.SetDefault("worker.stale_after", "30m")
	viper.SetDefault("worker.transport_retry", 3)
	// Expensive queues get a single slot by default; operators tune this
	// per deployment.
	viper.SetDefault("worker.queues", map[string]int{
		models.CapabilityTranslation:   1,
		models.CapabilitySlideFormat:   2,
		models.CapabilitySlideGenerate: 2,
		models.CapabilityNarration:     4,
		models.CapabilityAIEditor:      2,
	})

	viper.SetDefault("providers.gemini_model", "models/gemini-1.5-pro")
	viper.SetDefault("providers.openai_model", "gpt-4o")
	viper.SetDefault("providers.tts_model", "tts-1")
	viper.SetDefault("providers.tts_voice", "alloy")

	viper.SetDefault("pricing", map[string]map[string]int64{
		models.CapabilityTranslation:   {"base": 2, "per_unit": 2},
		models.CapabilitySlideFormat:   {"base": 1, "per_unit": 1},
		models.CapabilitySlideGenerate: {"base": 2, "per_unit": 1},
		models.CapabilityNarration:     {"base": 2, "per_unit": 2},
		models.CapabilityAIEditor:      {"base": 1, "per_unit": 1},
	})
}
