package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/qbo-backfill/pkg/metrics"
)

type runFlags struct {
	startDate   string
	endDate     string
	dryRun      bool
	metricsAddr string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the date range and upsert it into the sink",
		Long: `Extract every record updated within [start-date, end-date] (UTC days,
inclusive) and upsert the batch into the sink. Without dates the trailing
two days up to today are extracted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBackfill(ctx, cmd, global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.startDate, "start-date", "", "First day to extract (YYYY-MM-DD, default: two days ago)")
	cmd.Flags().StringVar(&flags.endDate, "end-date", "", "Last day to extract (YYYY-MM-DD, default: today)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Extract and report without writing to the sink")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve /metrics on this address during the run")

	return cmd
}

func runBackfill(ctx context.Context, cmd *cobra.Command, global *globalFlags, flags *runFlags) error {
	a, err := newApp(global, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.buildJob(ctx, flags.dryRun)
	if err != nil {
		return err
	}

	addr := a.cfg.Metrics.Addr
	if flags.metricsAddr != "" {
		addr = flags.metricsAddr
	}
	srv, err := metrics.Start(addr, a.logger)
	if err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	started := time.Now()
	summary, err := job.Execute(ctx, flags.startDate, flags.endDate)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summaryLine(summary, time.Since(started)))
	return nil
}

func newMigrateCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the sink table if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.openSink(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sink %s ready (%s)\n", a.cfg.Sink.Table, a.cfg.Sink.Driver)
			return nil
		},
	}
}
