package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var seedFlags struct {
	file string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed domains from a file, one hostname per line",
	Long: `Seed the domain pool from a plain text file. Lines are hostnames;
blank lines and # comments are skipped. Seeding is idempotent: known
hostnames are left untouched.`,
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

		f, err := os.Open(seedFlags.file)
		if err != nil {
			return fmt.Errorf("opening seed file: %w", err)
		}
		defer f.Close()

		added := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			hostname := strings.TrimSpace(scanner.Text())
			if hostname == "" || strings.HasPrefix(hostname, "#") {
				continue
			}
			if err := a.store.InsertDomain(cmd.Context(), hostname, cfg.Source); err != nil {
				return err
			}
			added++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		fmt.Printf("seeded %d hostnames into source %q\n", added, cfg.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFlags.file, "file", "f", "", "path to the hostname list")
	_ = seedCmd.MarkFlagRequired("file")
}
