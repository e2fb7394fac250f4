package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mindshare-hq/callisto/pkg/guardian"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Evaluate the guardian health gate without crawling",
	Long: `Evaluate every guardian pre-flight check and print the report as
JSON. Exits 2 when the gate would block a crawl, so CI and cron
wrappers can branch on it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.guard.Preflight(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)

		if !report.Healthy {
			return fmt.Errorf("%w: pre-flight checks failed", guardian.ErrBlocked)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}
