// Package health runs preflight checks for the pipeline: configuration
// sanity, store connectivity and the day's payload parse quality.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/serptap/serptap/internal/config"
)

// Check statuses. Warnings do not make the report unhealthy.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// parseWarnRatio is the per-day floor for place payloads that parse as
// JSON; below it the parse check reports a warning.
const parseWarnRatio = 0.995

// Pinger verifies store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ParseStats reads the day's payload parse counts. Stores that implement it
// alongside Pinger get a parse quality check in the report.
type ParseStats interface {
	ParseSuccessRatio(ctx context.Context, day time.Time) (parsed, total int, err error)
}

// Check is one component's result.
type Check struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report aggregates all checks.
type Report struct {
	Healthy bool    `json:"healthy"`
	Checks  []Check `json:"checks"`
}

// Run executes all checks. A nil store records a failed connectivity check
// instead of panicking, so a bad DSN still yields a full report.
func Run(ctx context.Context, cfg *config.Config, store Pinger) *Report {
	report := &Report{Healthy: true}
	report.add(checkConfig(cfg))
	report.add(checkStore(ctx, store))
	if stats, ok := store.(ParseStats); ok {
		report.add(checkParseRatio(ctx, stats))
	}
	return report
}

func (r *Report) add(c Check) {
	if c.Status == StatusFail {
		r.Healthy = false
	}
	r.Checks = append(r.Checks, c)
}

func checkConfig(cfg *config.Config) Check {
	start := time.Now()
	c := Check{Component: "config", Status: StatusOK}
	if err := cfg.Validate(); err != nil {
		c.Status = StatusFail
		c.Detail = err.Error()
	}
	c.LatencyMS = time.Since(start).Milliseconds()
	return c
}

func checkStore(ctx context.Context, store Pinger) Check {
	start := time.Now()
	c := Check{Component: "store", Status: StatusOK}
	switch {
	case store == nil:
		c.Status = StatusFail
		c.Detail = "store not connected"
	default:
		if err := store.Ping(ctx); err != nil {
			c.Status = StatusFail
			c.Detail = err.Error()
		}
	}
	c.LatencyMS = time.Since(start).Milliseconds()
	return c
}

func checkParseRatio(ctx context.Context, stats ParseStats) Check {
	start := time.Now()
	c := Check{Component: "parse_ratio", Status: StatusOK}
	parsed, total, err := stats.ParseSuccessRatio(ctx, time.Now().UTC())
	switch {
	case err != nil:
		c.Status = StatusFail
		c.Detail = err.Error()
	case total == 0:
		c.Detail = "no places ingested today"
	default:
		ratio := float64(parsed) / float64(total)
		c.Detail = fmt.Sprintf("%d/%d payloads parsed (%.2f%%)", parsed, total, ratio*100)
		if ratio < parseWarnRatio {
			c.Status = StatusWarn
		}
	}
	c.LatencyMS = time.Since(start).Milliseconds()
	return c
}
