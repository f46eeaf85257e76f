package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digkill/PhotoForge/internal/api"
)

func serveCmd() *cobra.Command {
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receivers and the background poll sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.db.Close()

			if !noSweep && a.cfg.SweepInterval > 0 {
				go a.deps.Sweeper.Run(ctx, a.cfg.SweepInterval)
			} else {
				a.log.Warn("poll sweep disabled; jobs without webhooks are reconciled only on read")
			}

			srv := api.NewServer(a.cfg, a.log, a.deps)
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Info("reconciler stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not start the background poll sweep")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Poll every stale processing job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.db.Close()

			stats, err := a.deps.Sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if stats.Errors > 0 {
				return fmt.Errorf("sweep: %d of %d jobs could not be reconciled", stats.Errors, stats.Checked)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logr, db, dialect, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			logr.Info("schema up to date", "driver", dialect.Driver)
			return nil
		},
	}
}
