package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/serptap/serptap/internal/config"
	"github.com/serptap/serptap/internal/storage/postgres"
	"github.com/serptap/serptap/pkg/observability"
)

const serviceName = "serptap"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "serptap",
		Short: "Queue-backed web search scraping pipeline",
		Long: `serptap decomposes keyword searches into per-zip, per-page queries,
queues them durably and processes them in parallel batches against the
Serper places API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCreateJobCmd(),
		newProcessBatchesCmd(),
		newMonitorJobCmd(),
		newHealthCheckCmd(),
	)
	return root
}

// bootstrap loads configuration, initializes telemetry and connects the
// store. The returned cleanup closes both.
func bootstrap(ctx context.Context) (*config.Config, *postgres.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	tel, err := observability.Setup(ctx, serviceName, cfg.OTelEnabled)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(tel.Logger)

	store, err := postgres.Connect(ctx, postgres.DBConfig{
		DSN:             cfg.DBDSN,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		shutdownTelemetry(tel)
		return nil, nil, nil, err
	}

	cleanup := func() {
		store.Close()
		shutdownTelemetry(tel)
	}
	return cfg, store, cleanup, nil
}

func shutdownTelemetry(tel *observability.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown failed", "error", err)
	}
}
