package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cofers/txguard/internal/dedupe"
	"github.com/cofers/txguard/internal/detect"
)

// Config is the process-wide configuration, loaded once at startup and
// injected into components. Weights and thresholds live here (not as
// hard-coded per-caller constants) because they change between deployments
// and tuning cycles.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8081"`

	// Idempotency store.
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	StorePingAttempts int           `envconfig:"STORE_PING_ATTEMPTS" default:"5"`
	StorePingBackoff  time.Duration `envconfig:"STORE_PING_BACKOFF" default:"2s"`

	// Deduplication gate.
	DedupeRegistrySet      string        `envconfig:"DEDUPE_REGISTRY_SET" default:"processed_checksums"`
	DedupeLockTTL          time.Duration `envconfig:"DEDUPE_LOCK_TTL" default:"5s"`
	DedupeContentionPolicy string        `envconfig:"DEDUPE_CONTENTION_POLICY" default:"drop"`
	DedupeRetryAttempts    int           `envconfig:"DEDUPE_RETRY_ATTEMPTS" default:"3"`
	DedupeRetryBackoff     time.Duration `envconfig:"DEDUPE_RETRY_BACKOFF" default:"100ms"`

	// Warehouse.
	GCPProject  string `envconfig:"GCP_PROJECT" required:"true"`
	BronzeTable string `envconfig:"BRONZE_TABLE" default:"temp_data.bronze_transactions"`
	SilverTable string `envconfig:"SILVER_TABLE" default:"temp_data.silver_transactions"`

	// Downstream publisher.
	TopicIn string `envconfig:"TOPIC_IN" required:"true"`

	// Anomaly detector.
	WeightConcept           float64 `envconfig:"DETECT_WEIGHT_CONCEPT" default:"0.8"`
	WeightAmount            float64 `envconfig:"DETECT_WEIGHT_AMOUNT" default:"0.1"`
	WeightReportedRemaining float64 `envconfig:"DETECT_WEIGHT_REPORTED_REMAINING" default:"0"`
	WeightAccountNumber     float64 `envconfig:"DETECT_WEIGHT_ACCOUNT_NUMBER" default:"0"`
	WeightBank              float64 `envconfig:"DETECT_WEIGHT_BANK" default:"0"`
	WeightTransactionDate   float64 `envconfig:"DETECT_WEIGHT_TRANSACTION_DATE" default:"0.1"`
	AnomalyThreshold        float64 `envconfig:"DETECT_ANOMALY_THRESHOLD" default:"0.9"`
	WarningThreshold        float64 `envconfig:"DETECT_WARNING_THRESHOLD" default:"0.7"`
	AmountTolerance         float64 `envconfig:"DETECT_AMOUNT_TOLERANCE" default:"1"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GCPProject) == "" {
		return fmt.Errorf("GCP_PROJECT is required")
	}
	if strings.TrimSpace(c.TopicIn) == "" {
		return fmt.Errorf("TOPIC_IN is required")
	}
	switch dedupe.ContentionPolicy(c.DedupeContentionPolicy) {
	case dedupe.PolicyDrop, dedupe.PolicyRetry:
	default:
		return fmt.Errorf("DEDUPE_CONTENTION_POLICY must be %q or %q, got %q",
			dedupe.PolicyDrop, dedupe.PolicyRetry, c.DedupeContentionPolicy)
	}
	if c.DedupeLockTTL <= 0 {
		return fmt.Errorf("DEDUPE_LOCK_TTL must be positive")
	}
	if sum := c.WeightConcept + c.WeightAmount + c.WeightReportedRemaining +
		c.WeightAccountNumber + c.WeightBank + c.WeightTransactionDate; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("detector weights must sum to 1.0, got %v", sum)
	}
	if c.WarningThreshold > c.AnomalyThreshold {
		return fmt.Errorf("DETECT_WARNING_THRESHOLD (%v) cannot exceed DETECT_ANOMALY_THRESHOLD (%v)",
			c.WarningThreshold, c.AnomalyThreshold)
	}
	return nil
}

// DetectorConfig maps the loaded weights and thresholds into the detector's
// configuration.
func (c *Config) DetectorConfig() detect.Config {
	return detect.Config{
		Weights: detect.Weights{
			Concept:           c.WeightConcept,
			Amount:            c.WeightAmount,
			ReportedRemaining: c.WeightReportedRemaining,
			AccountNumber:     c.WeightAccountNumber,
			Bank:              c.WeightBank,
			TransactionDate:   c.WeightTransactionDate,
		},
		AnomalyThreshold: c.AnomalyThreshold,
		WarningThreshold: c.WarningThreshold,
		AmountTolerance:  c.AmountTolerance,
	}
}

// GateOptions maps the dedupe settings into gate options.
func (c *Config) GateOptions() dedupe.Options {
	return dedupe.Options{
		RegistrySet:   c.DedupeRegistrySet,
		LockTTL:       c.DedupeLockTTL,
		Policy:        dedupe.ContentionPolicy(c.DedupeContentionPolicy),
		RetryAttempts: c.DedupeRetryAttempts,
		RetryBackoff:  c.DedupeRetryBackoff,
	}
}
