package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/serptap/serptap/internal/budget"
	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/jobs"
)

func newCreateJobCmd() *cobra.Command {
	var params domain.JobParams

	cmd := &cobra.Command{
		Use:   "create-job",
		Short: "Create a scraping job and enqueue its queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			job, err := svc.Create(ctx, params)
			if err != nil {
				return err
			}

			printJobCreated(cmd.OutOrStdout(), cmd.ErrOrStderr(), job)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Keyword, "keyword", "", "search keyword (required)")
	cmd.Flags().StringVar(&params.State, "state", "", "two-letter US state code (required)")
	cmd.Flags().IntVar(&params.Pages, "pages", 0, "pages per zip (default from DEFAULT_PAGES)")
	cmd.Flags().IntVar(&params.BatchSize, "batch-size", 0, "queries per batch (default from DEFAULT_BATCH_SIZE)")
	cmd.Flags().IntVar(&params.Concurrency, "concurrency", 0, "parallel searches per batch (default from DEFAULT_CONCURRENCY)")
	cmd.Flags().BoolVar(&params.DryRun, "dry-run", false, "use synthetic results and skip the budget gate")
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

// printJobCreated writes the bare job id to stdout so shells can capture it;
// the human-readable summary goes to stderr.
func printJobCreated(stdout, stderr io.Writer, job *domain.Job) {
	fmt.Fprintln(stdout, job.ID)
	fmt.Fprintf(stderr,
		"created job %s (%s in %s): %d zips, %d pages, %d queries queued\n",
		job.ID, job.Keyword, job.State,
		job.Totals.Zips, job.Pages, job.Totals.Queries)
}
