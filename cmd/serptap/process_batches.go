package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/serptap/serptap/internal/coordinator"
	"github.com/serptap/serptap/internal/executor"
	"github.com/serptap/serptap/internal/serper"
)

func newProcessBatchesCmd() *cobra.Command {
	var exitWhenIdle bool

	cmd := &cobra.Command{
		Use:   "process-batches",
		Short: "Process queued queries for all running jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, store, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			exec := executor.New(executor.Params{
				Store: store,
				Live: serper.NewClient(serper.Config{
					BaseURL:    cfg.SerperBaseURL,
					APIKey:     cfg.SerperAPIKey,
					Timeout:    cfg.SerperTimeout(),
					MaxRetries: cfg.MaxRetries,
					RetryDelay: cfg.RetryDelay(),
				}),
				Mock:               serper.NewMockClient(),
				UseMockAPI:         cfg.UseMockAPI,
				EarlyExitThreshold: cfg.EarlyExitThreshold,
				ChunkSize:          cfg.MergeChunkSize,
			})

			slog.InfoContext(ctx, "starting processors",
				"workers", cfg.MaxWorkers, "mock_api", cfg.UseMockAPI,
				"exit_when_idle", exitWhenIdle)

			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < cfg.MaxWorkers; i++ {
				coord := coordinator.New(coordinator.Params{
					Store:             store,
					Processor:         exec,
					LoopDelay:         cfg.LoopDelay(),
					IdlePoll:          cfg.IdlePoll(),
					ClaimReclaimAfter: cfg.ClaimReclaimAfter,
					ExitWhenIdle:      exitWhenIdle,
				})
				g.Go(func() error { return coord.Run(gctx) })
			}
			if err := g.Wait(); err != nil {
				return err
			}

			slog.InfoContext(ctx, "processors stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&exitWhenIdle, "exit-when-idle", false,
		"exit once no running jobs remain instead of polling")
	return cmd
}
