package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var crawlFlags struct {
	tier   string
	limit  int
	force  bool
	shadow bool
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl synchronously and exit",
	Long: `Run a single crawl for one tier and print the run summary as JSON.

Exit codes: 0 on success, 2 when the guardian blocks the run, 3 on
configuration errors, 1 otherwise.

Examples:
  # Cheap tier, at most 50 domains
  callisto crawl --tier cheap --limit 50

  # Full crawl, bypassing the guardian gate
  callisto crawl --tier full --force

  # Dry run: full pipeline, nothing persisted
  callisto crawl --tier cheap --shadow`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().StringVar(&crawlFlags.tier, "tier", "cheap", "tier to run (cheap, medium, expensive, full)")
	crawlCmd.Flags().IntVar(&crawlFlags.limit, "limit", 0, "override the tier's domain cap")
	crawlCmd.Flags().BoolVar(&crawlFlags.force, "force", false, "bypass the guardian pre-flight gate")
	crawlCmd.Flags().BoolVar(&crawlFlags.shadow, "shadow", false, "exercise the pipeline without persisting")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if crawlFlags.shadow {
		cfg.ShadowMode = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go a.orch.RunSweeper(sweepCtx)

	summary, err := a.sched.RunOnce(ctx, crawlFlags.tier, crawlFlags.limit, crawlFlags.force)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	return err
}
