package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/serptap/serptap/internal/config"
	"github.com/serptap/serptap/internal/health"
	"github.com/serptap/serptap/internal/storage/postgres"
	"github.com/serptap/serptap/pkg/observability"
)

func newHealthCheckCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Verify configuration and store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Read without validating: a broken configuration should show
			// up as a failed check, not as a refusal to run any.
			cfg, err := config.Read()
			if err != nil {
				return err
			}

			tel, err := observability.Setup(ctx, serviceName, cfg.OTelEnabled)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)
			slog.SetDefault(tel.Logger)

			var store health.Pinger
			if cfg.DBDSN != "" {
				s, err := postgres.Connect(ctx, postgres.DBConfig{
					DSN:             cfg.DBDSN,
					MaxConns:        cfg.DBMaxConns,
					MinConns:        cfg.DBMinConns,
					ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
					ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
				})
				if err != nil {
					slog.WarnContext(ctx, "store connection failed", "error", err)
				} else {
					defer s.Close()
					store = s
				}
			}

			report := health.Run(ctx, cfg, store)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, c := range report.Checks {
					line := fmt.Sprintf("%-8s %s", c.Component, c.Status)
					if c.Detail != "" {
						line += "  (" + c.Detail + ")"
					}
					fmt.Fprintln(out, line)
				}
			}

			if !report.Healthy {
				return errors.New("health check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
