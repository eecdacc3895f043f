// Package coordinator drives the processing loop: it sweeps stuck claims,
// hands each running job one batch per iteration and finishes jobs whose
// queues have drained.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/executor"
)

// Store is the storage surface the coordinator needs.
type Store interface {
	RunningJobs(ctx context.Context) ([]domain.Job, error)
	QueueCounts(ctx context.Context, jobID string) (domain.QueueCounts, error)
	MarkJobDone(ctx context.Context, jobID string) error
	UpdateJobStats(ctx context.Context, jobID string) error
	ReapStuckClaims(ctx context.Context, cutoff time.Time) (int, error)
}

// BatchProcessor runs one batch for a job.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, job *domain.Job) (executor.BatchResult, error)
}

// Params configures a Coordinator.
type Params struct {
	Store             Store
	Processor         BatchProcessor
	LoopDelay         time.Duration
	IdlePoll          time.Duration
	ClaimReclaimAfter time.Duration
	// ExitWhenIdle stops the loop once no running jobs remain instead of
	// polling forever.
	ExitWhenIdle bool
}

// Coordinator runs the batch processing loop.
type Coordinator struct {
	store        Store
	processor    BatchProcessor
	loopDelay    time.Duration
	idlePoll     time.Duration
	reclaimAfter time.Duration
	exitWhenIdle bool
}

// New creates a coordinator.
func New(p Params) *Coordinator {
	return &Coordinator{
		store:        p.Store,
		processor:    p.Processor,
		loopDelay:    p.LoopDelay,
		idlePoll:     p.IdlePoll,
		reclaimAfter: p.ClaimReclaimAfter,
		exitWhenIdle: p.ExitWhenIdle,
	}
}

// Run loops until ctx is cancelled, or until idle when ExitWhenIdle is set.
// Cancellation is honored at batch boundaries only: a batch in flight is
// always carried through its writeback so no claim is stranded.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "coordinator started",
		"loop_delay", c.loopDelay, "idle_poll", c.idlePoll,
		"claim_reclaim_after", c.reclaimAfter, "exit_when_idle", c.exitWhenIdle)

	for {
		if err := ctx.Err(); err != nil {
			slog.InfoContext(ctx, "coordinator stopping", "reason", context.Cause(ctx))
			return nil
		}

		// Batch work runs on an uncancellable context so shutdown never
		// tears a claim's writeback in half.
		opCtx := context.WithoutCancel(ctx)

		if reaped, err := c.store.ReapStuckClaims(opCtx, time.Now().UTC().Add(-c.reclaimAfter)); err != nil {
			slog.ErrorContext(ctx, "failed to reap stuck claims", "error", err)
		} else if reaped > 0 {
			slog.WarnContext(ctx, "recovered stuck claims", "queries", reaped)
		}

		jobs, err := c.store.RunningJobs(opCtx)
		if err != nil {
			// Store blips are survivable; the queue state is durable and
			// the next iteration simply retries the listing.
			slog.ErrorContext(ctx, "failed to list running jobs", "error", err)
			if !sleepCtx(ctx, c.loopDelay) {
				return nil
			}
			continue
		}

		if len(jobs) == 0 {
			if c.exitWhenIdle {
				slog.InfoContext(ctx, "no running jobs, exiting")
				return nil
			}
			if !sleepCtx(ctx, c.idlePoll) {
				return nil
			}
			continue
		}

		for i := range jobs {
			if ctx.Err() != nil {
				break
			}
			job := &jobs[i]
			res, err := c.processor.ProcessBatch(opCtx, job)
			if err != nil {
				slog.ErrorContext(ctx, "batch failed", "job_id", job.ID, "error", err)
				continue
			}
			if res.Processed > 0 {
				continue
			}
			if err := c.finishIfDrained(opCtx, job.ID); err != nil {
				slog.ErrorContext(ctx, "failed to finish job", "job_id", job.ID, "error", err)
			}
		}

		if !sleepCtx(ctx, c.loopDelay) {
			return nil
		}
	}
}

// finishIfDrained marks the job done when no queued or processing queries
// remain. Processing rows belong to other workers, so their job stays
// running until they resolve or the reaper recovers them.
func (c *Coordinator) finishIfDrained(ctx context.Context, jobID string) error {
	counts, err := c.store.QueueCounts(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue counts: %w", err)
	}
	if counts.Remaining() {
		return nil
	}
	if err := c.store.UpdateJobStats(ctx, jobID); err != nil {
		return fmt.Errorf("update job stats: %w", err)
	}
	if err := c.store.MarkJobDone(ctx, jobID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	slog.InfoContext(ctx, "job finished", "job_id", jobID,
		"successes", counts.Success, "failures", counts.Failed, "skipped", counts.Skipped)
	return nil
}

// sleepCtx pauses for d, returning false when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
