package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/guardian"
)

// Exit codes. Automation keys off these: 2 means the guardian refused
// the run, 3 means the configuration never validated.
const (
	exitOK      = 0
	exitFatal   = 1
	exitBlocked = 2
	exitConfig  = 3
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "callisto",
	Short: "Callisto - LLM brand-perception crawler",
	Long: `Callisto tracks how large language models describe brands over time.

It crawls a pool of domains across every configured LLM provider with a
fixed set of prompt templates, persists the raw responses append-only,
and runs on a tiered cadence: cheap models hourly, the full provider
set weekly. A guardian health gate keeps infrastructure failures from
being mistaken for genuine model-memory change.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps sentinel errors to their
// exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, guardian.ErrBlocked):
		return exitBlocked
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	default:
		return exitFatal
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}
