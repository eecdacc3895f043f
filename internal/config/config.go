// Package config loads and validates process configuration from the
// environment. Configuration is read once at startup and passed down by
// reference; nothing re-reads the environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrDSNRequired is returned when the database DSN is not configured.
var ErrDSNRequired = errors.New("SERPTAP_DB_DSN is required")

// ErrAPIKeyRequired is returned when the live search API is selected but no
// API key is configured.
var ErrAPIKeyRequired = errors.New("SERPER_API_KEY is required when USE_MOCK_API is false")

// Config holds every recognized setting. Fields without an explicit value in
// the environment take the documented defaults.
type Config struct {
	// Store locator and connection pool.
	DBDSN             string `envconfig:"SERPTAP_DB_DSN"`
	DBMaxConns        int    `envconfig:"SERPTAP_DB_MAX_CONNS" default:"25"`
	DBMinConns        int    `envconfig:"SERPTAP_DB_MIN_CONNS" default:"5"`
	DBConnMaxLifetime int    `envconfig:"SERPTAP_DB_CONN_MAX_LIFETIME_SEC" default:"300"`
	DBConnMaxIdleTime int    `envconfig:"SERPTAP_DB_CONN_MAX_IDLE_TIME_SEC" default:"60"`

	// Search API.
	UseMockAPI        bool   `envconfig:"USE_MOCK_API" default:"true"`
	SerperAPIKey      string `envconfig:"SERPER_API_KEY"`
	SerperBaseURL     string `envconfig:"SERPER_BASE_URL" default:"https://google.serper.dev"`
	SerperTimeoutSecs int    `envconfig:"SERPER_TIMEOUT_SECONDS" default:"30"`
	MaxRetries        int    `envconfig:"MAX_RETRIES_PER_QUERY" default:"3"`
	RetryDelaySecs    int    `envconfig:"RETRY_DELAY_SECONDS" default:"5"`

	// Budget.
	DailyBudgetUSD float64 `envconfig:"DAILY_BUDGET_USD" default:"10.00"`
	CostPerCredit  float64 `envconfig:"COST_PER_CREDIT" default:"0.001"`
	BudgetSoftPct  float64 `envconfig:"BUDGET_SOFT_PCT" default:"80"`
	BudgetHardPct  float64 `envconfig:"BUDGET_HARD_PCT" default:"100"`

	// Job defaults.
	DefaultPages       int `envconfig:"DEFAULT_PAGES" default:"3"`
	DefaultBatchSize   int `envconfig:"DEFAULT_BATCH_SIZE" default:"100"`
	DefaultConcurrency int `envconfig:"DEFAULT_CONCURRENCY" default:"20"`

	// Processor.
	MaxWorkers         int           `envconfig:"PROCESSOR_MAX_WORKERS" default:"1"`
	LoopDelaySecs      int           `envconfig:"PROCESSOR_LOOP_DELAY_SECONDS" default:"3"`
	IdlePollSecs       int           `envconfig:"IDLE_POLL_INTERVAL" default:"10"`
	EarlyExitThreshold int           `envconfig:"EARLY_EXIT_THRESHOLD" default:"10"`
	MergeChunkSize     int           `envconfig:"MERGE_CHUNK_SIZE" default:"500"`
	ClaimReclaimAfter  time.Duration `envconfig:"CLAIM_RECLAIM_AFTER" default:"1h"`

	// Observability.
	OTelEnabled bool `envconfig:"OTEL_ENABLED" default:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads configuration without validating it. Health checks use it to
// report what is wrong instead of refusing to start.
func Read() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and numeric ranges.
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return ErrDSNRequired
	}
	if !c.UseMockAPI && c.SerperAPIKey == "" {
		return ErrAPIKeyRequired
	}
	if c.SerperTimeoutSecs <= 0 {
		return fmt.Errorf("SERPER_TIMEOUT_SECONDS must be positive, got %d", c.SerperTimeoutSecs)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES_PER_QUERY must not be negative, got %d", c.MaxRetries)
	}
	if c.DefaultPages < 1 {
		return fmt.Errorf("DEFAULT_PAGES must be at least 1, got %d", c.DefaultPages)
	}
	if c.DefaultBatchSize < 1 {
		return fmt.Errorf("DEFAULT_BATCH_SIZE must be at least 1, got %d", c.DefaultBatchSize)
	}
	if c.DefaultConcurrency < 1 {
		return fmt.Errorf("DEFAULT_CONCURRENCY must be at least 1, got %d", c.DefaultConcurrency)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("PROCESSOR_MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MergeChunkSize < 1 {
		return fmt.Errorf("MERGE_CHUNK_SIZE must be at least 1, got %d", c.MergeChunkSize)
	}
	if c.EarlyExitThreshold < 0 {
		return fmt.Errorf("EARLY_EXIT_THRESHOLD must not be negative, got %d", c.EarlyExitThreshold)
	}
	if c.DailyBudgetUSD < 0 {
		return fmt.Errorf("DAILY_BUDGET_USD must not be negative, got %.2f", c.DailyBudgetUSD)
	}
	if c.CostPerCredit < 0 {
		return fmt.Errorf("COST_PER_CREDIT must not be negative, got %.4f", c.CostPerCredit)
	}
	if c.BudgetHardPct < c.BudgetSoftPct {
		return fmt.Errorf("BUDGET_HARD_PCT (%.0f) must not be below BUDGET_SOFT_PCT (%.0f)", c.BudgetHardPct, c.BudgetSoftPct)
	}
	if c.ClaimReclaimAfter <= 0 {
		return fmt.Errorf("CLAIM_RECLAIM_AFTER must be positive, got %s", c.ClaimReclaimAfter)
	}
	return nil
}

// SerperTimeout returns the per-request search timeout.
func (c *Config) SerperTimeout() time.Duration {
	return time.Duration(c.SerperTimeoutSecs) * time.Second
}

// RetryDelay returns the base delay between search retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// LoopDelay returns the pause between processing iterations when work was done.
func (c *Config) LoopDelay() time.Duration {
	return time.Duration(c.LoopDelaySecs) * time.Second
}

// IdlePoll returns the pause between iterations when no jobs are running.
func (c *Config) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollSecs) * time.Second
}
