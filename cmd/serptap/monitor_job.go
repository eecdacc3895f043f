package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/serptap/serptap/internal/budget"
	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/jobs"
)

// jobStatusReader reads a job's monitoring view.
type jobStatusReader interface {
	Status(ctx context.Context, jobID string) (*jobs.JobStatus, error)
}

func newMonitorJobCmd() *cobra.Command {
	var asJSON bool
	var intervalSecs int

	cmd := &cobra.Command{
		Use:   "monitor-job <job-id>",
		Short: "Poll a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, store, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			guard := budget.New(store, cfg.DailyBudgetUSD, cfg.CostPerCredit,
				cfg.BudgetSoftPct, cfg.BudgetHardPct)
			svc := jobs.New(store, guard, jobs.Defaults{
				Pages:       cfg.DefaultPages,
				BatchSize:   cfg.DefaultBatchSize,
				Concurrency: cfg.DefaultConcurrency,
			}, cfg.MergeChunkSize, cfg.UseMockAPI)

			return monitorJob(ctx, svc, args[0],
				time.Duration(intervalSecs)*time.Second, asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print each status as JSON")
	cmd.Flags().IntVar(&intervalSecs, "interval", 5, "seconds between status reads")
	return cmd
}

// monitorJob polls the job status every interval, printing it each round,
// and returns nil once the job is done. Cancellation (Ctrl-C) stops the
// loop with the context's error.
func monitorJob(ctx context.Context, svc jobStatusReader, jobID string, interval time.Duration, asJSON bool, out io.Writer) error {
	for {
		status, err := svc.Status(ctx, jobID)
		if err != nil {
			return err
		}
		if err := printJobStatus(out, status, asJSON); err != nil {
			return err
		}
		if status.Job.Status == domain.JobStatusDone {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func printJobStatus(out io.Writer, status *jobs.JobStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	job := status.Job
	c := status.Counts
	fmt.Fprintf(out, "job %s  %s\n", job.ID, job.Status)
	fmt.Fprintf(out, "  keyword:  %s (%s)\n", job.Keyword, job.State)
	fmt.Fprintf(out, "  queue:    %d queued, %d processing, %d success, %d failed, %d skipped\n",
		c.Queued, c.Processing, c.Success, c.Failed, c.Skipped)
	fmt.Fprintf(out, "  totals:   %d zips, %d queries, %d places, %d credits\n",
		job.Totals.Zips, job.Totals.Queries, job.Totals.Places, job.Totals.Credits)
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "  finished: %s\n", job.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
