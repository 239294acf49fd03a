package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate an OPD day in-process or drive load against a running API",
	}

	rootCmd.AddCommand(dayCmd())
	rootCmd.AddCommand(loadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dayCmd() *cobra.Command {
	var (
		date       string
		overflow   int
		rosterPath string
	)

	cmd := &cobra.Command{
		Use:   "day",
		Short: "Run the scripted OPD day against the configured store and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(ctx); err != nil {
				return err
			}

			opts := simulation.Options{Overflow: overflow}
			if date != "" {
				d, err := clinic.ParseDate(date, a.Clinic.Location())
				if err != nil {
					return err
				}
				opts.Date = d
			}
			if rosterPath != "" {
				roster, err := simulation.LoadRoster(rosterPath)
				if err != nil {
					return err
				}
				opts.Roster = &roster
			}

			report, err := a.Simulation.Run(ctx, opts)
			if err != nil {
				return err
			}
			return report.WriteText(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "clinic date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&overflow, "overflow", 2, "extra bookings per slot beyond capacity")
	cmd.Flags().StringVar(&rosterPath, "roster", "", "YAML roster to use instead of the built-in one")
	return cmd
}
