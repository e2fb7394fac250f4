package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mindshare-hq/callisto/pkg/scheduler"
	"mindshare-hq/callisto/pkg/store"
)

var runFlags struct {
	migrate      bool
	drainTimeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the crawler daemon",
	Long: `Start the crawler daemon: the tiered cron scheduler, the lease
sweeper and the HTTP control plane.

Examples:
  # Start with environment-only configuration
  callisto run

  # Apply pending migrations first
  callisto run --migrate

  # Custom config file
  callisto run --config /etc/callisto/config.yaml`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runFlags.migrate, "migrate", false, "apply pending migrations before starting")
	runCmd.Flags().DurationVar(&runFlags.drainTimeout, "drain-timeout", 15*time.Minute, "how long to wait for in-flight runs on shutdown")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runFlags.migrate {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.registry.WatchKeys(); err != nil {
		slog.Warn("keys file watch unavailable", "error", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go a.orch.RunSweeper(bgCtx)
	go a.keepRotatorSynced(bgCtx)

	if err := a.sched.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           scheduler.NewServer(a.sched, a.guard, a.guard, a.metrics).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("daemon started",
		"source", cfg.Source,
		"workers", cfg.Worker.Concurrency,
		"shadow_mode", cfg.ShadowMode,
		"owner", a.orch.OwnerID(),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("control plane failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down, draining runs", "timeout", runFlags.drainTimeout.String())
	fmt.Fprintln(os.Stderr, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("control plane shutdown failed", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), runFlags.drainTimeout)
	defer drainCancel()
	if err := a.sched.Drain(drainCtx); err != nil {
		return err
	}
	slog.Info("daemon stopped")
	return nil
}
